package hostlist

import (
	"strings"

	"github.com/springfiles/spring-hostlist/lobby"
)

// The reply body is CSV with a semicolon separator and every field quoted,
// which encoding/csv cannot be told to produce (it only quotes when it has
// to). The writer side is small enough to do by hand; the tests parse the
// output back with encoding/csv to prove the quoting stays reversible.

func quoteRecord(builder *strings.Builder, record []string) {
	for i, field := range record {
		if i > 0 {
			builder.WriteByte(';')
		}
		builder.WriteByte('"')
		builder.WriteString(strings.ReplaceAll(field, `"`, `""`))
		builder.WriteByte('"')
	}
	builder.WriteByte('\n')
}

// writeHostCSV appends the header row and one record per battle.
func writeHostCSV(builder *strings.Builder, rows []lobby.HostRow) {
	quoteRecord(builder, lobby.HostRowHeader())
	for _, row := range rows {
		quoteRecord(builder, row.Record())
	}
}
