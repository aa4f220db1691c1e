package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// YearSnapshot is the minimal view of a year record needed to diff two years.
type YearSnapshot struct {
	Identity                 Identity
	EffectiveYear            int
	SourceEffectiveYear      *int
	CreatedFromRecalculation bool
	Version                  int64
	Properties               Values
}

// NewYearSnapshot captures a record and its payload values.
func NewYearSnapshot[P any](record Record[P]) (YearSnapshot, error) {
	values, err := EncodeValues(record.Payload)
	if err != nil {
		return YearSnapshot{}, err
	}
	return YearSnapshot{
		Identity:                 record.Identity,
		EffectiveYear:            record.EffectiveYear,
		SourceEffectiveYear:      record.SourceEffectiveYear,
		CreatedFromRecalculation: record.CreatedFromRecalculation,
		Version:                  record.Version,
		Properties:               values,
	}, nil
}

// CanonicalText flattens the snapshot into sorted lines suitable for diffing.
func (s YearSnapshot) CanonicalText() ([]string, error) {
	source := "-"
	if s.SourceEffectiveYear != nil {
		source = fmt.Sprintf("%d", *s.SourceEffectiveYear)
	}
	lines := []string{
		fmt.Sprintf("Identity: %s", s.Identity),
		fmt.Sprintf("EffectiveYear: %d", s.EffectiveYear),
		fmt.Sprintf("SourceEffectiveYear: %s", source),
		fmt.Sprintf("Recalculated: %t", s.CreatedFromRecalculation),
		"Payload:",
	}

	flat := map[string]string{}
	if err := flattenValues("", s.Properties, flat); err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return append(lines, "  (empty)"), nil
	}

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, flat[key]))
	}
	return lines, nil
}

// DiffYearSnapshots renders a unified diff between two snapshots. A nil side
// renders as empty, so a diff against a year without data shows only additions.
func DiffYearSnapshots(baseLabel string, base *YearSnapshot, targetLabel string, target *YearSnapshot) (string, error) {
	baseLines, err := snapshotLines(base)
	if err != nil {
		return "", err
	}
	targetLines, err := snapshotLines(target)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", baseLabel)
	fmt.Fprintf(&b, "+++ %s\n", targetLabel)
	b.WriteString("@@ -0,0 +0,0 @@\n")
	for _, op := range diffLines(baseLines, targetLines) {
		b.WriteByte(op.mark)
		b.WriteString(op.line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func snapshotLines(snapshot *YearSnapshot) ([]string, error) {
	if snapshot == nil {
		return nil, nil
	}
	return snapshot.CanonicalText()
}

func flattenValues(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 && prefix != "" {
			acc[prefix] = "{}"
		}
		for key, nested := range typed {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			if err := flattenValues(next, nested, acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 && prefix != "" {
			acc[prefix] = "[]"
		}
		for idx, item := range typed {
			if err := flattenValues(fmt.Sprintf("%s[%d]", prefix, idx), item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("payload value %v has no field name", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
			return nil
		}
		acc[prefix] = string(encoded)
	}
	return nil
}

type lineOp struct {
	mark byte
	line string
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add ops.
func diffLines(base, target []string) []lineOp {
	m, n := len(base), len(target)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case base[i] == target[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]lineOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			ops = append(ops, lineOp{' ', base[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, lineOp{'-', base[i]})
			i++
		default:
			ops = append(ops, lineOp{'+', target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, lineOp{'-', base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, lineOp{'+', target[j]})
	}
	return ops
}
