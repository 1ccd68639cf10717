package hostlist

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springfiles/spring-hostlist/lobby"
)

// The reply CSV must be parseable back into exactly the field values that
// went in, including fields containing the separator, quotes and spaces.
func TestHostCSVRoundTrip(t *testing.T) {
	rows := []lobby.HostRow{
		{
			BattleID:      "17",
			Founder:       "alice",
			Passworded:    "1",
			Rank:          "3",
			EngineVersion: "104.0.1-287-gf7b0fcc",
			Map:           "Red Comet Remake 1.8",
			Title:         `All welcome; "no" smurfs`,
			GameName:      "Balanced Annihilation Evolution RC2",
			Locked:        true,
			SpecCount:     4,
			PlayerCount:   7,
			IsIngame:      true,
		},
		{BattleID: "18", Founder: "bob", GameName: "XTA"},
	}

	var builder strings.Builder
	writeHostCSV(&builder, rows)

	reader := csv.NewReader(strings.NewReader(builder.String()))
	reader.Comma = ';'
	records, err := reader.ReadAll()
	require.NoError(t, err, "the reply CSV must be valid")
	require.Len(t, records, 3, "header plus one record per battle")

	assert.Equal(t, lobby.HostRowHeader(), records[0])
	assert.Equal(t, rows[0].Record(), records[1])
	assert.Equal(t, rows[1].Record(), records[2])
}

func TestQuoteRecordQuotesEveryField(t *testing.T) {
	var builder strings.Builder
	quoteRecord(&builder, []string{"plain", "", "with;separator"})
	assert.Equal(t, "\"plain\";\"\";\"with;separator\"\n", builder.String())
}
