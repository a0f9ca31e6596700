package capture

import (
	"strings"

	"github.com/dgnsrekt/promptdeck/internal/types"
)

// buildWhere turns a Filter into a WHERE clause and its arguments. The
// third return value reports a filter that can never match (start > end),
// which callers turn into an empty result rather than an error.
func buildWhere(f types.Filter) (string, []any, bool) {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return "", nil, true
	}

	var clauses []string
	var args []any

	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		clauses = append(clauses,
			`(LOWER(prompt) LIKE ? ESCAPE '\' OR LOWER(response) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(f.Providers) > 0 {
		clauses = append(clauses, `provider IN (`+placeholders(len(f.Providers))+`)`)
		for _, p := range f.Providers {
			args = append(args, p)
		}
	}
	if len(f.Tags) > 0 {
		// Match-any: a record qualifies if it carries at least one listed tag.
		clauses = append(clauses,
			`id IN (SELECT capture_id FROM capture_tags WHERE tag IN (`+placeholders(len(f.Tags))+`))`)
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}
	if f.Archived != nil {
		clauses = append(clauses, `archived = ?`)
		args = append(args, boolToInt(*f.Archived))
	}
	if f.SessionID != "" {
		clauses = append(clauses, `session_id = ?`)
		args = append(args, f.SessionID)
	}
	if f.Start != nil {
		clauses = append(clauses, `created_at >= ?`)
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		clauses = append(clauses, `created_at <= ?`)
		args = append(args, f.End.UTC())
	}

	if len(clauses) == 0 {
		return "", nil, false
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
