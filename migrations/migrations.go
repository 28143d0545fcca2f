// Package migrations embeds the SQL schema so the migrate command and the
// integration tests apply the same files.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var files embed.FS

// File is one migration script.
type File struct {
	Name string
	SQL  string
}

// All returns every migration in name order.
func All() ([]File, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]File, 0, len(names))
	for _, n := range names {
		data, err := files.ReadFile(n)
		if err != nil {
			return nil, err
		}
		out = append(out, File{Name: n, SQL: string(data)})
	}
	return out, nil
}
