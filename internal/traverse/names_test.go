package traverse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

func TestPageURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		page int
		want string
	}{
		{listURL, 1, listURL},
		{listURL, 2, listURL + "&start=10"},
		{listURL, 37, listURL + "&start=360"},
		{"https://example.com/items", 3, "https://example.com/items?start=20"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PageURL(tt.base, "start", 10, tt.page))
	}
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ACME Co", SafeName(` ACME: "Co" `, 50))
	assert.Equal(t, "abc", SafeName("a/b\\c|?*", 50))
	assert.Equal(t, strings.Repeat("é", 5), SafeName(strings.Repeat("é", 9), 5))
}

func TestArtifactPath(t *testing.T) {
	t.Parallel()

	rec := harvest.DetailRecord{
		Group:      strings.Repeat("g", 70),
		Title:      "Data <Engineer>",
		StableID:   "4242",
		OccurredAt: time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "11-2024/"+strings.Repeat("g", 50)+"_Data Engineer_4242.pdf", ArtifactPath(rec))
}
