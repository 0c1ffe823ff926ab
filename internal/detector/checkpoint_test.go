package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/list-harvester/internal/harvest"
)

const listURL = "https://example.com/my-items/saved?cardType=APPLIED"

func openPage(t *testing.T, page *browsertest.Page) *browsertest.Session {
	t.Helper()
	s := browsertest.New(map[string]*browsertest.Page{listURL: page})
	require.NoError(t, s.Navigate(context.Background(), listURL))
	return s
}

func TestCheckpointClassifier_IsBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		page *browsertest.Page
		want bool
	}{
		{
			name: "clean list page",
			page: &browsertest.Page{Title: "My Jobs | Example"},
			want: false,
		},
		{
			name: "challenge path",
			page: &browsertest.Page{Address: "https://example.com/checkpoint/challenge/abc"},
			want: true,
		},
		{
			name: "verification title",
			page: &browsertest.Page{Title: "Example Security Verification"},
			want: true,
		},
		{
			name: "pin input",
			page: &browsertest.Page{Elements: map[string][]harvest.Element{
				"input[name='pin']": {{}},
			}},
			want: true,
		},
		{
			name: "phrase marker",
			page: &browsertest.Page{Elements: map[string][]harvest.Element{
				"//*[contains(text(), 'unusual activity')]": {{Text: "We noticed unusual activity"}},
			}},
			want: true,
		},
	}

	classifier := NewCheckpointClassifier(DefaultCheckpointConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := openPage(t, tt.page)
			require.Equal(t, tt.want, classifier.IsBlocked(context.Background(), s))
		})
	}
}

func TestCheckpointClassifier_FailsOpen(t *testing.T) {
	t.Parallel()

	s := openPage(t, &browsertest.Page{Title: "checkpoint"})
	s.AddressErr = errors.New("tab crashed")
	s.TitleErr = errors.New("tab crashed")
	s.FindErr = errors.New("tab crashed")

	classifier := NewCheckpointClassifier(DefaultCheckpointConfig(), nil)
	require.False(t, classifier.IsBlocked(context.Background(), s))
}

func TestCheckpointClassifier_SkipsFailedSignalOnly(t *testing.T) {
	t.Parallel()

	s := openPage(t, &browsertest.Page{Address: "https://example.com/challenge/1"})
	s.TitleErr = errors.New("no title")

	classifier := NewCheckpointClassifier(DefaultCheckpointConfig(), nil)
	reason, blocked := classifier.Match(context.Background(), s)
	require.True(t, blocked)
	require.Equal(t, "address /challenge/", reason)
}

func TestXPathLiteral(t *testing.T) {
	t.Parallel()

	require.Equal(t, "'plain'", xpathLiteral("plain"))
	require.Equal(t, `"it's"`, xpathLiteral("it's"))
	require.Equal(t, `concat('a', "'", 'b"c')`, xpathLiteral(`a'b"c`))
}
