/*
Copyright © 2026 the AQMEval authors.
This file is part of AQMEval.

AQMEval is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AQMEval is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AQMEval.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package statsconcat collects the statistics tables written by the
// stats tasks of every package into a single long-format table.
package statsconcat

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval"
	"github.com/spf13/cast"
	"github.com/tealeg/xlsx"
)

// Output file names written by Write.
const (
	CSVName  = "stats_concat.csv"
	XLSXName = "stats_concat.xlsx"
)

// DateLayout is the layout of the dates in a stats file name.
const DateLayout = "2006-01-02_15"

var fileNameRegexp = regexp.MustCompile(
	`^stats\.(.+)\.(all|epa_region|country)\.(.+)\.([0-9_-]+)\.([0-9_-]+)\.csv$`)

// Columns are the columns of the concatenated table.
var Columns = []string{"id", "Stat_ID", "Stat_FullName", "model", "value", "variable",
	"region_type", "region_id", "start_date", "end_date", "package_key", "path", "created_at"}

// File is one statistics table. Its name has the form
// stats.<variable>.<all|epa_region|country>.<region>.<start>.<end>.csv.
type File struct {
	Variable   string
	RegionType string
	RegionID   string
	Start, End time.Time

	// Package is the evaluation package the file belongs to, or empty
	// if it could not be told from the path.
	Package aqmeval.PackageKey

	Path string
}

// ParseFile parses the name of the stats file at path.
func ParseFile(path string, pkg aqmeval.PackageKey) (File, error) {
	m := fileNameRegexp.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return File{}, fmt.Errorf("statsconcat: %s is not a stats file name", filepath.Base(path))
	}
	start, err := time.Parse(DateLayout, m[4])
	if err != nil {
		return File{}, fmt.Errorf("statsconcat: start date of %s: %v", path, err)
	}
	end, err := time.Parse(DateLayout, m[5])
	if err != nil {
		return File{}, fmt.Errorf("statsconcat: end date of %s: %v", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return File{}, fmt.Errorf("statsconcat: %v", err)
	}
	return File{
		Variable:   m[1],
		RegionType: m[2],
		RegionID:   m[3],
		Start:      start,
		End:        end,
		Package:    pkg,
		Path:       abs,
	}, nil
}

// Row is one statistic of one model.
type Row struct {
	StatID       string
	StatFullName string
	Model        string
	Value        string
	File         File
}

// Rows reads the table and melts it into one row per statistic and
// model column, in column order.
func (f File) Rows() ([]Row, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("statsconcat: %v", err)
	}
	defer r.Close()
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("statsconcat: reading %s: %v", f.Path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("statsconcat: %s is empty", f.Path)
	}
	header := records[0]
	id, name := -1, -1
	for i, c := range header {
		switch c {
		case "Stat_ID":
			id = i
		case "Stat_FullName":
			name = i
		}
	}
	if id < 0 || name < 0 {
		return nil, fmt.Errorf("statsconcat: %s needs Stat_ID and Stat_FullName columns", f.Path)
	}
	var rows []Row
	for c, model := range header {
		if c == id || c == name {
			continue
		}
		for _, rec := range records[1:] {
			rows = append(rows, Row{
				StatID:       rec[id],
				StatFullName: rec[name],
				Model:        model,
				Value:        rec[c],
				File:         f,
			})
		}
	}
	return rows, nil
}

// Collection is a set of stats files.
type Collection struct {
	Files     []File
	CreatedAt time.Time
}

// FromDir finds every stats file under dir. A file belongs to the
// package whose key is one of the directories in its path.
func FromDir(dir string, log logrus.FieldLogger) (*Collection, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Collection{CreatedAt: time.Now().UTC()}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match("stats.*.csv", d.Name()); !ok {
			return nil
		}
		pkg := packageOf(path)
		log.WithFields(logrus.Fields{"path": path, "package": pkg}).Debug("parsing stats file")
		f, err := ParseFile(path, pkg)
		if err != nil {
			return err
		}
		c.Files = append(c.Files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("statsconcat: %v", err)
	}
	log.WithFields(logrus.Fields{"dir": dir, "files": len(c.Files)}).Info("found stats files")
	return c, nil
}

func packageOf(path string) aqmeval.PackageKey {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if k, err := aqmeval.ParsePackageKey(part); err == nil {
			return k
		}
	}
	return ""
}

// Rows returns the melted rows of every file.
func (c *Collection) Rows() ([]Row, error) {
	var rows []Row
	for _, f := range c.Files {
		r, err := f.Rows()
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	return rows, nil
}

func (c *Collection) record(id int, r Row) []string {
	return []string{
		strconv.Itoa(id), r.StatID, r.StatFullName, r.Model, r.Value, r.File.Variable,
		r.File.RegionType, r.File.RegionID,
		r.File.Start.Format(time.RFC3339), r.File.End.Format(time.RFC3339),
		string(r.File.Package), r.File.Path, c.CreatedAt.Format(time.RFC3339),
	}
}

// WriteCSV writes the concatenated table with a header row.
func (c *Collection) WriteCSV(w io.Writer) error {
	rows, err := c.Rows()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("statsconcat: %v", err)
	}
	for i, r := range rows {
		if err := cw.Write(c.record(i, r)); err != nil {
			return fmt.Errorf("statsconcat: %v", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("statsconcat: %v", err)
	}
	return nil
}

// WriteXLSX writes the concatenated table to a workbook with a single
// sheet. Numeric values are stored as numbers.
func (c *Collection) WriteXLSX(path string) error {
	rows, err := c.Rows()
	if err != nil {
		return err
	}
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("stats")
	if err != nil {
		return fmt.Errorf("statsconcat: %v", err)
	}
	hr := sheet.AddRow()
	for _, col := range Columns {
		hr.AddCell().SetString(col)
	}
	for i, r := range rows {
		xr := sheet.AddRow()
		for j, v := range c.record(i, r) {
			cell := xr.AddCell()
			switch Columns[j] {
			case "id":
				cell.SetInt(i)
			case "value":
				if f, err := cast.ToFloat64E(v); err == nil && v != "" {
					cell.SetFloat(f)
				} else {
					cell.SetString(v)
				}
			default:
				cell.SetString(v)
			}
		}
	}
	if err := file.Save(path); err != nil {
		return fmt.Errorf("statsconcat: %v", err)
	}
	return nil
}

// Write concatenates the stats files under dir and writes CSVName and
// XLSXName to outDir.
func Write(dir, outDir string, log logrus.FieldLogger) (*Collection, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c, err := FromDir(dir, log)
	if err != nil {
		return nil, err
	}
	if len(c.Files) == 0 {
		return nil, fmt.Errorf("statsconcat: no stats files found under %s", dir)
	}
	csvPath := filepath.Join(outDir, CSVName)
	f, err := os.Create(csvPath)
	if err != nil {
		return nil, fmt.Errorf("statsconcat: %v", err)
	}
	if err := c.WriteCSV(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("statsconcat: %v", err)
	}
	xlsxPath := filepath.Join(outDir, XLSXName)
	if err := c.WriteXLSX(xlsxPath); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"csv": csvPath, "xlsx": xlsxPath}).Info("wrote concatenated stats")
	return c, nil
}
