package hostlist

import (
	"errors"
	"strings"

	"github.com/springfiles/spring-hostlist/lobby"
)

// request is one parsed query line.
//
//	<COMMAND> <FILTER-TYPE> [SUBSTRING ...]
//	COMMAND:     ALL|OPEN|INGAME
//	FILTER-TYPE: NONE|MOD|HOST
//
// The substring part is split on "|" into OR-groups and each group on
// whitespace into AND-terms: a battle matches when every term of at least
// one group is a case-insensitive substring of the filtered column.
type request struct {
	command string
	filter  string
	groups  [][]string
}

var errBadRequest = errors.New("request does not match <COMMAND> <FILTER-TYPE> [SUBSTRING ...]")

func parseRequest(line string) (request, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return request{}, errBadRequest
	}
	if len(fields) == 2 && fields[1] != "NONE" {
		return request{}, errBadRequest
	}

	switch fields[0] {
	case "ALL", "OPEN", "INGAME":
	default:
		return request{}, errBadRequest
	}
	switch fields[1] {
	case "NONE", "MOD", "HOST":
	default:
		return request{}, errBadRequest
	}

	parsed := request{command: fields[0], filter: fields[1]}
	if parsed.filter == "NONE" {
		return parsed, nil
	}

	for _, group := range strings.Split(strings.Join(fields[2:], " "), "|") {
		parsed.groups = append(parsed.groups, strings.Fields(group))
	}
	return parsed, nil
}

// matchGroup reports whether every term occurs in text, ignoring case. A
// group without terms matches everything.
func matchGroup(terms []string, text string) bool {
	text = strings.ToUpper(text)
	for _, term := range terms {
		if !strings.Contains(text, strings.ToUpper(term)) {
			return false
		}
	}
	return true
}

// filterRows applies the request's filter to a snapshot. Matches are
// concatenated group by group, so a battle matching two OR-groups appears
// twice in the result. That mirrors the behavior clients already depend on
// and is asserted in the tests.
func filterRows(rows []lobby.HostRow, parsed request) []lobby.HostRow {
	if parsed.filter == "NONE" {
		return rows
	}

	column := func(row lobby.HostRow) string { return row.GameName }
	if parsed.filter == "HOST" {
		column = func(row lobby.HostRow) string { return row.Founder }
	}

	var matched []lobby.HostRow
	for _, terms := range parsed.groups {
		for _, row := range rows {
			if matchGroup(terms, column(row)) {
				matched = append(matched, row)
			}
		}
	}
	return matched
}
