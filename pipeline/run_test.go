package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cellpy "github.com/mbarzegary/cellpy-JOSS"
	"github.com/mbarzegary/cellpy-JOSS/ingest"
	"github.com/mbarzegary/cellpy-JOSS/store"
)

const sampleExport = `Data_Point,Test_Time(s),Step_Time(s),Date_Time,Cycle_Index,Step_Index,Current(A),Voltage(V),Charge_Capacity(Ah),Discharge_Capacity(Ah)
1,0,0,2024-01-01 00:00:00,1,1,-1.0,3.80,0,0
2,10,10,2024-01-01 00:00:10,1,1,-1.0,3.79,0,0.05
3,20,20,2024-01-01 00:00:20,1,1,-1.0,3.78,0,0.10
4,30,0,2024-01-01 00:00:30,1,2,0,3.40,0,0.10
5,40,10,2024-01-01 00:00:40,1,2,0,3.48,0,0.10
6,50,20,2024-01-01 00:00:50,1,2,0,3.55,0,0.10
7,60,0,2024-01-01 00:01:00,1,3,1.0,3.80,0,0.10
8,70,10,2024-01-01 00:01:10,1,3,1.0,3.82,0.05,0.10
9,80,20,2024-01-01 00:01:20,1,3,1.0,3.84,0.09,0.10
`

func writeExport(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(sampleExport), 0o644))
	return path
}

func TestRunCSV(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     outDir,
		Format:     "csv",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)

	// Step table artifact: header plus one row per (cycle, step).
	f, err := os.Open(res.StepTablePath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, stepCSVHeader, rows[0])
	assert.Equal(t, "discharge", rows[1][2])
	assert.Equal(t, "ocvrlx_up", rows[2][2])
	assert.Equal(t, "charge", rows[3][2])

	// Summary artifact: one row for the single cycle.
	sf, err := os.Open(res.SummaryPath)
	require.NoError(t, err)
	defer sf.Close()
	srows, err := csv.NewReader(sf).ReadAll()
	require.NoError(t, err)
	require.Len(t, srows, 2)
	assert.Equal(t, summaryCSVHeader, srows[0])
	assert.Equal(t, "1", srows[1][3])

	// Manifest reflects the conversion.
	var m Manifest
	data, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "cell01", m.Name)
	assert.Equal(t, 1, m.Cycles)
	assert.Equal(t, 3, m.Steps)
	assert.Equal(t, 9, m.RawRows)
	assert.Equal(t, 1, m.StepTypeCounts["discharge"])
	require.Len(t, m.Sources, 1)
	assert.Equal(t, "cell01.csv", m.Sources[0].Name)

	require.NotNil(t, res.Dataset)
	assert.True(t, res.Dataset.SummaryBuilt)
}

func TestRunWritesRawTable(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     outDir,
		Format:     "csv",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outDir, "raw.csv"), res.RawTablePath)

	// The raw export uses the normalized column names, so it reads
	// straight back through the csv adapter.
	again, err := ingest.Read(res.RawTablePath, ingest.Options{Mass: 0.001})
	require.NoError(t, err)
	require.Len(t, again.Rows, len(res.Dataset.Rows))
	for i := range again.Rows {
		assert.Equal(t, res.Dataset.Rows[i], again.Rows[i], "row %d", i)
	}
}

func TestRunParquet(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     outDir,
		Format:     "parquet",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)

	for _, path := range []string{res.RawTablePath, res.StepTablePath, res.SummaryPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
		assert.Equal(t, ".parquet", filepath.Ext(path))
	}
}

func TestRunMergesInputs(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "a.csv"), writeExport(t, "b.csv")},
		OutDir:     outDir,
		Format:     "csv",
		Name:       "merged",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)

	d := res.Dataset
	require.NotNil(t, d)
	assert.True(t, d.Merged)
	assert.Equal(t, "merged", d.Name)
	assert.Len(t, d.Rows, 18)
	assert.Equal(t, 2, d.LastCycle())
	assert.Equal(t, int64(18), d.LastDataPoint())
}

func TestRunSavesToCellar(t *testing.T) {
	tmp := t.TempDir()
	cellarPath := filepath.Join(tmp, "cellar.db")
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     filepath.Join(tmp, "out"),
		Format:     "csv",
		Mass:       0.001,
		CellarPath: cellarPath,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)
	assert.Equal(t, cellarPath, res.CellarPath)

	cellar, err := store.Open(cellarPath)
	require.NoError(t, err)
	defer cellar.Close()
	got, err := cellar.Load(context.Background(), "cell01")
	require.NoError(t, err)
	assert.Len(t, got.Rows, 9)
	assert.True(t, got.StepTableBuilt)
}

func TestRunValidation(t *testing.T) {
	_, err := Run(Options{OutDir: t.TempDir()})
	require.Error(t, err)

	_, err = Run(Options{InputPaths: []string{"x.csv"}})
	require.Error(t, err)

	_, err = Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     t.TempDir(),
		Format:     "xml",
	})
	require.Error(t, err)
}

func TestExportBuiltDataset(t *testing.T) {
	tmp := t.TempDir()
	res, err := Run(Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     filepath.Join(tmp, "out"),
		Format:     "csv",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	})
	require.NoError(t, err)

	// Re-export the finished dataset into a second directory.
	again, err := Export(res.Dataset, filepath.Join(tmp, "again"), "csv", false)
	require.NoError(t, err)

	want, err := os.ReadFile(res.SummaryPath)
	require.NoError(t, err)
	got, err := os.ReadFile(again.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportRequiresBuiltTables(t *testing.T) {
	d := &cellpy.Dataset{Name: "cell01"}
	_, err := Export(d, t.TempDir(), "csv", true)
	require.Error(t, err)
}

func TestRunRefusesDirtyOutDir(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "old.txt"), []byte("x"), 0o644))

	opts := Options{
		InputPaths: []string{writeExport(t, "cell01.csv")},
		OutDir:     outDir,
		Format:     "csv",
		Mass:       0.001,
		Config:     cellpy.DefaultConfig(),
		Summary:    cellpy.DefaultSummaryOptions(),
	}
	_, err := Run(opts)
	require.Error(t, err)

	opts.Overwrite = true
	_, err = Run(opts)
	require.NoError(t, err)
}
