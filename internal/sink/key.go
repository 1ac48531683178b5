package sink

import (
	"path"
	"strings"
)

// DefaultKeyTemplate places outputs under the table name, partitioned by
// the load date taken from the input key.
const DefaultKeyTemplate = "processed/{table}/load_date={date}/{file}"

// KeyFields are the values substituted into a key template.
type KeyFields struct {
	Table         string
	Discriminator string
	RunID         string
	InputKey      string
}

// LoadDate joins the three path segments after the first one with "-", so
// "raw/2024/01/15/00/x.json.gz" gives "2024-01-15". Keys with four or
// fewer segments give "unknown".
func LoadDate(inputKey string) string {
	parts := strings.Split(inputKey, "/")
	if len(parts) <= 4 {
		return "unknown"
	}
	return strings.Join(parts[1:4], "-")
}

// OutputFilename maps the input file name to a .parquet name.
func OutputFilename(inputKey string) string {
	name := path.Base(inputKey)
	name = strings.Replace(name, ".json.gz", ".parquet", 1)
	name = strings.Replace(name, ".json", ".parquet", 1)
	if strings.HasSuffix(name, ".parquet") {
		return name
	}
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, path.Ext(name)) + ".parquet"
}

// FormatOutputKey renders the default layout for one table of one input.
func FormatOutputKey(inputKey, tableName string) string {
	return FormatKey(DefaultKeyTemplate, KeyFields{Table: tableName, InputKey: inputKey})
}

// FormatKey substitutes {table}, {discriminator}, {date}, {file} and
// {run_id} in tmpl.
func FormatKey(tmpl string, f KeyFields) string {
	if tmpl == "" {
		tmpl = DefaultKeyTemplate
	}
	return strings.NewReplacer(
		"{table}", f.Table,
		"{discriminator}", f.Discriminator,
		"{date}", LoadDate(f.InputKey),
		"{file}", OutputFilename(f.InputKey),
		"{run_id}", f.RunID,
	).Replace(tmpl)
}
