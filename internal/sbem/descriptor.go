package sbem

import (
	"strconv"
	"strings"
)

const groupMarker = "<GRP>"

// fieldNames maps descriptor tokens to the firmware field names they stand
// for. The table is closed; unknown tokens keep their numeric form.
var fieldNames = map[int]string{
	6:  "MEASACC_TIMESTAMP",
	10: "MEASHR_AVERAGE",
	18: "MEASACC_ARRAYACC_X",
	19: "MEASACC_ARRAYACC_Y",
	20: "MEASACC_ARRAYACC_Z",
	26: "MEASHR_RRDATA",
	54: "ARRAY_BEGIN",
	55: "ARRAY_END",
	57: "MEASACC_ARRAYACC_",
}

// FieldName returns the descriptor field name for a token, or its decimal
// form when the token is not in the table.
func FieldName(token int) string {
	if name, ok := fieldNames[token]; ok {
		return name
	}
	return strconv.Itoa(token)
}

// GroupDefinition is one parsed <GRP> line from a descriptor chunk.
type GroupDefinition struct {
	Raw    string   `json:"raw"`
	Tokens []int    `json:"tokens"`
	Fields []string `json:"fields"`
}

// Descriptor is the decoded form of an id-0 chunk.
type Descriptor struct {
	Text   string            `json:"text"`
	Groups []GroupDefinition `json:"groups"`
}

// ParseDescriptor text-decodes a descriptor chunk payload. Invalid UTF-8 is
// substituted with the replacement character; descriptor decoding never fails
// the file. Lines starting with the group marker are tokenized into
// comma-separated integers, stripping non-digit characters inside each token
// and skipping tokens left empty.
func ParseDescriptor(payload []byte) Descriptor {
	text := strings.ToValidUTF8(string(payload), "�")
	d := Descriptor{Text: text}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, groupMarker) {
			continue
		}
		d.Groups = append(d.Groups, parseGroupLine(line))
	}
	return d
}

func parseGroupLine(line string) GroupDefinition {
	g := GroupDefinition{Raw: line}
	for _, tok := range strings.Split(strings.TrimPrefix(line, groupMarker), ",") {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, tok)
		if digits == "" {
			continue
		}
		val, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		g.Tokens = append(g.Tokens, val)
		g.Fields = append(g.Fields, FieldName(val))
	}
	return g
}
