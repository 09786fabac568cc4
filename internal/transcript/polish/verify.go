package polish

import "strings"

// anchor pairs equal tokens of the original and corrected sequences.
type anchor struct{ a, b int }

// lcs returns the anchors of a longest common subsequence of a and b.
func lcs(a, b []string) []anchor {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	n, m := len(a), len(b)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else {
				table[i][j] = max(table[i+1][j], table[i][j+1])
			}
		}
	}
	var out []anchor
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] == b[j]:
			out = append(out, anchor{i, j})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verify keeps only the edits between original and corrected that match a
// declared correction. Every other changed span is restored from original.
func verify(original, corrected string, declared []Correction) (string, []Correction) {
	if original == corrected {
		return original, nil
	}
	from := strings.Fields(original)
	to := strings.Fields(corrected)

	type key struct{ from, to string }
	known := make(map[key]Correction, len(declared))
	for _, c := range declared {
		known[key{normalize(c.Original), normalize(c.Corrected)}] = c
	}

	var (
		out       []string
		confirmed []Correction
	)
	accept := func(fromSpan, toSpan []string) bool {
		k := key{normalize(strings.Join(fromSpan, " ")), normalize(strings.Join(toSpan, " "))}
		c, ok := known[k]
		if ok {
			out = append(out, toSpan...)
			confirmed = append(confirmed, c)
		}
		return ok
	}
	resolve := func(fromSpan, toSpan []string) {
		if len(fromSpan) == 0 && len(toSpan) == 0 {
			return
		}
		if accept(fromSpan, toSpan) {
			return
		}
		// Equal-length spans may hold several independent word swaps.
		if len(fromSpan) == len(toSpan) && len(fromSpan) > 1 {
			for i := range fromSpan {
				if !accept(fromSpan[i:i+1], toSpan[i:i+1]) {
					out = append(out, fromSpan[i])
				}
			}
			return
		}
		out = append(out, fromSpan...)
	}

	i, j := 0, 0
	for _, an := range lcs(from, to) {
		resolve(from[i:an.a], to[j:an.b])
		out = append(out, from[an.a])
		i, j = an.a+1, an.b+1
	}
	resolve(from[i:], to[j:])
	return strings.Join(out, " "), confirmed
}
