package pgstore

import (
	"fmt"
	"strings"

	"github.com/quotefriends/backend/internal/docstore"
)

// buildSelect translates a query into SQL over the documents table. Field
// names are always bound as parameters, never interpolated.
func buildSelect(q docstore.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString("SELECT id, data FROM documents WHERE collection = $1")

	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, p := range q.Where {
		sb.WriteString(" AND ")
		if p.Field == docstore.FieldID {
			switch p.Op {
			case docstore.OpEq:
				sb.WriteString("id = " + param(p.Value))
			case docstore.OpIn:
				sb.WriteString("id = ANY(" + param(p.Values) + "::TEXT[])")
			default:
				return "", nil, fmt.Errorf("%w: %s is not supported on the document id", docstore.ErrInvalidQuery, p.Op)
			}
			continue
		}

		field := param(p.Field)
		switch p.Op {
		case docstore.OpEq:
			sb.WriteString(fmt.Sprintf("data->>%s::TEXT = %s::TEXT", field, param(p.Value)))
		case docstore.OpIn:
			sb.WriteString(fmt.Sprintf("data->>%s::TEXT = ANY(%s::TEXT[])", field, param(p.Values)))
		case docstore.OpContains:
			sb.WriteString(fmt.Sprintf("data->%s::TEXT @> jsonb_build_array(%s::TEXT)", field, param(p.Value)))
		}
	}
	sb.WriteString(" ORDER BY id")

	return sb.String(), args, nil
}

const (
	selectOneSQL = `SELECT data FROM documents WHERE collection = $1 AND id = $2`

	selectForUpdateSQL = `SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`

	insertSQL = `
        INSERT INTO documents (collection, id, data, updated_at)
        VALUES ($1, $2, $3, $4)
    `

	upsertSQL = `
        INSERT INTO documents (collection, id, data, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (collection, id) DO UPDATE
        SET data = excluded.data, updated_at = excluded.updated_at
    `

	updateSQL = `
        UPDATE documents
        SET data = $3, updated_at = $4
        WHERE collection = $1 AND id = $2
    `

	deleteSQL = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)
