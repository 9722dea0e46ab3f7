package sync

import (
	"strings"

	"github.com/leitnerhq/leitner/internal/schema"
)

// Outcome is the result of resolving one local record against its remote
// copy before upload.
type Outcome struct {
	// Merged is the row to upload. When no conflict was declared it is
	// the local row unchanged.
	Merged schema.Row

	// Tag names how the conflict was resolved. Empty means no conflict.
	// Card merges join one part per field group, for example
	// "FSRS:local,content:server".
	Tag string

	// ChangedLocal marks that Merged differs from the local row and must
	// be written back to the local store so both sides converge.
	ChangedLocal bool
}

// Conflict reports whether a conflict was declared.
func (o Outcome) Conflict() bool {
	return o.Tag != ""
}

// Resolve merges a pending local record with the remote copy fetched during
// the drain. A conflict exists only when the remote row was modified
// strictly later than the local one; a local copy that is as recent or
// newer wins outright and uploads unchanged. The remote row is nil when the
// record does not exist remotely yet.
//
// Cards merge field groups independently. Every other table resolves by
// last writer wins: the newer remote row replaces the local one.
func Resolve(table string, local, remoteRow schema.Row) Outcome {
	if remoteRow == nil {
		return Outcome{Merged: local}
	}
	if remoteRow.Int("modified_at") <= local.Int("modified_at") {
		return Outcome{Merged: local}
	}
	if table == schema.TableCards {
		return mergeCard(local, remoteRow)
	}
	return Outcome{Merged: remoteRow.Clone(), Tag: "server_wins", ChangedLocal: true}
}

// mergeCard resolves a card conflict field group by field group. The merged
// row starts from the remote copy, since the remote is known to be newer,
// and local values win back individual groups:
//
//   - Memory state (stability, difficulty, learning state, lapses, review
//     dates) moves as one group from whichever side reviewed last. Splitting
//     it would pair a stability with the wrong review date. A missing review
//     date loses to any present one; a tie keeps the local group.
//   - Review counters take the larger value of each side. Counters only
//     grow, so the maximum is correct regardless of which device reviewed.
//   - Content (front and back) comes from the remote copy. The text is
//     tagged as a conflict only when the two sides actually differ; no
//     attempt is made to merge text.
func mergeCard(local, remoteRow schema.Row) Outcome {
	merged := remoteRow.Clone()
	var tags []string

	if remoteRow.Int("last_review_at") > local.Int("last_review_at") {
		tags = append(tags, "FSRS:server")
	} else {
		for _, col := range schema.MemoryColumns {
			merged[col] = local[col]
		}
		tags = append(tags, "FSRS:local")
	}

	for _, col := range []string{"total_reviews", "correct_reviews"} {
		if local.Int(col) > merged.Int(col) {
			merged[col] = local.Int(col)
		}
	}

	if local.String("front") != remoteRow.String("front") ||
		local.String("back") != remoteRow.String("back") {
		tags = append(tags, "content:server")
	}

	return Outcome{
		Merged:       merged,
		Tag:          strings.Join(tags, ","),
		ChangedLocal: true,
	}
}
