package acquire

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/opennames/internal/core"
)

// HeaderFileName is the single-row header definition shipped in the doc folder.
const HeaderFileName = "OS_Open_Names_Header.csv"

// ListInputFiles returns the names of the .csv files in dataDir, sorted.
// A readable directory without inputs yields an empty list.
func ListInputFiles(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, core.E(core.KindIO, "acquire.list_inputs", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadHeaderSchema reads the ordered column names from the header file in
// docDir. The file name is matched without regard to case.
func ReadHeaderSchema(docDir string) ([]string, error) {
	const op = "acquire.header_schema"

	path, err := findFile(docDir, HeaderFileName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, core.E(core.KindIO, op, err)
	}
	defer f.Close()

	r := csv.NewReader(core.NewSourceReader(f, 0))
	r.FieldsPerRecord = -1

	var header []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.E(core.KindParse, op, err)
		}
		header = row
	}

	var columns []string
	for _, col := range header {
		if col = strings.TrimSpace(col); col != "" {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return nil, core.Errorf(core.KindParse, op, "%s has no columns", path)
	}
	return columns, nil
}

func findFile(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", core.E(core.KindIO, "acquire.header_schema", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", core.Errorf(core.KindIO, "acquire.header_schema", "%s not found in %s", name, dir)
}
