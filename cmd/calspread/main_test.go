package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/calspread/internal/config"
	"github.com/rewired-gh/calspread/internal/contracts"
	"github.com/rewired-gh/calspread/internal/datasource"
	"github.com/rewired-gh/calspread/internal/models"
	"github.com/rewired-gh/calspread/internal/report"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"CL", "YM"}, splitList(" cl, ym ,"))
	assert.Nil(t, splitList(""))
}

func TestKeepPairs(t *testing.T) {
	pairs := [][]string{{"CL", "YM"}, {"HO", "RTY"}, {"cl", "ho"}}
	assert.Equal(t, [][]string{{"CL", "YM"}}, keepPairs(pairs, []string{"CL", "YM"}))
	assert.Equal(t, [][]string{{"cl", "ho"}}, keepPairs(pairs, []string{"CL", "HO"}))
	assert.Nil(t, keepPairs(pairs, []string{"CL"}))
}

func TestPipelineConfigFromDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	pcfg, err := pipelineConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, []models.Instrument{models.CL, models.HO, models.YM, models.RTY}, pcfg.Instruments)
	assert.Equal(t, [][2]models.Instrument{{models.CL, models.YM}}, pcfg.CrossPairs)
	assert.Equal(t, contracts.PolicyExpiration, pcfg.Policy)
	assert.Equal(t, []int{3, 5, 10, 20}, pcfg.Window.Windows)
	assert.NoError(t, pcfg.Validate())
}

func TestInstrumentsCommand(t *testing.T) {
	var out bytes.Buffer
	instrumentsCmd.SetOut(&out)
	require.NoError(t, instrumentsCmd.RunE(instrumentsCmd, nil))

	for _, want := range []string{"TICKER", "CL", "1986", "RTY", "4396", "YM Calendar Spread"} {
		assert.Contains(t, out.String(), want)
	}
}

const sqliteFixture = `
CREATE TABLE wrds_contract_info (
	futcode INTEGER PRIMARY KEY,
	contrcode INTEGER NOT NULL,
	dsmnem TEXT,
	startdate TEXT,
	lasttrddate TEXT
);
CREATE TABLE wrds_fut_contract (
	futcode INTEGER NOT NULL,
	date_ TEXT NOT NULL,
	settlement REAL
);
INSERT INTO wrds_contract_info VALUES
	(1001, 1986, 'CLF26', '2025-01-02', '2025-12-16'),
	(1002, 1986, 'CLG26', '2025-02-03', '2026-01-20');
INSERT INTO wrds_fut_contract VALUES
	(1001, '2025-12-12', 58.0),
	(1002, '2025-12-12', 58.4),
	(1001, '2025-12-15', 58.5),
	(1002, '2025-12-15', 59.0);
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// assertCLSpread checks the CL result of the shared fixture data: a spread of
// 0.4 for three days, then 0.5 for five.
func assertCLSpread(t *testing.T, run *models.Run) {
	t.Helper()
	cl, ok := run.Result(models.CL)
	require.True(t, ok)
	require.NotNil(t, cl.Spread)
	assert.Equal(t, "1001", cl.FrontContract)
	assert.Equal(t, "1002", cl.SecondContract)
	assert.Equal(t, 8, cl.Spread.ValidCount())
	assert.InDelta(t, 0.4625, cl.Stats.Mean.Float64, 1e-9)
}

func TestNewAppSQLiteFixture(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "fixture.db")
	db, err := datasource.Open(ctx, datasource.DBConfig{Driver: "sqlite", DSN: dbPath})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, sqliteFixture)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	outDir := t.TempDir()
	cfgPath := writeFile(t, "config.yaml", `
analysis:
  start_date: "2025-12-12"
  end_date: "2025-12-19"
  instruments: [CL]
source:
  driver: sqlite
  dsn: `+dbPath+`
  rate_limit: 100
report:
  output_dir: `+outDir+`
`)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.Analysis.CrossPairs = nil
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Source.Schema)

	a, err := newApp(ctx, cfg, "")
	require.NoError(t, err)
	defer a.Close()

	run, err := a.runner.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, run.Failures)
	assertCLSpread(t, run)

	a.deliver(ctx, run)
	_, err = os.Stat(filepath.Join(outDir, report.JSONFile))
	assert.NoError(t, err)
}

func TestNewAppJSONFixture(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Analysis.Instruments = []string{"CL", "YM"}
	cfg.Report.OutputDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	a, err := newApp(ctx, cfg, filepath.Join("testdata", "observations.json"))
	require.NoError(t, err)
	defer a.Close()

	run, err := a.runner.Run(ctx)
	require.NoError(t, err)
	assertCLSpread(t, run)

	ym, ok := run.Result(models.YM)
	require.True(t, ok)
	assert.Nil(t, ym.Spread)
	require.Len(t, run.Cross, 1)
	assert.False(t, run.Cross[0].Correlation.Valid)
}

func TestNewAppMissingFixture(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = newApp(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
