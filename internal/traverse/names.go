package traverse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

var unsafeName = regexp.MustCompile(`[<>:"/\\|?*]`)

// SafeName strips path-hostile characters and truncates to limit runes.
func SafeName(s string, limit int) string {
	s = strings.TrimSpace(unsafeName.ReplaceAllString(s, ""))
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return s
}

// ArtifactPath returns the month-folder path for a record's PDF, for example
// "03-2025/Acme_Backend Engineer_4242.pdf".
func ArtifactPath(rec harvest.DetailRecord) string {
	name := fmt.Sprintf("%s_%s_%s.pdf", SafeName(rec.Group, 50), SafeName(rec.Title, 60), rec.StableID)
	return rec.OccurredAt.Format("01-2006") + "/" + name
}

// PageURL returns the canonical address of a 1-based list page. Page 1 is
// the base address; later pages add param=(page-1)*size.
func PageURL(base, param string, size, page int) string {
	if page <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + param + "=" + strconv.Itoa((page-1)*size)
}
