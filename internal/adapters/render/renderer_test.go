package render

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-batch/internal/domain"
	"github.com/kevin07696/payment-batch/internal/testutil/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(lines int) domain.RenderParams {
	p := domain.RenderParams{
		DocumentID:      uuid.New(),
		Number:          101,
		RecipientName:   "Acme Supply",
		BankAccountName: "Operating",
		Amount:          decimal.RequireFromString("1250.5"),
		Currency:        "USD",
		PaymentDate:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < lines; i++ {
		p.Lines = append(p.Lines, domain.RemittanceLine{
			Reference:   "INV-" + string(rune('A'+i)),
			Description: "Invoice",
			Amount:      decimal.NewFromInt(10),
		})
	}
	return p
}

func TestTextRenderer_PageCountFollowsRemittanceLines(t *testing.T) {
	r := NewTextRenderer(Config{LinesPerPage: 3}, mocks.NewRecordingLogger())
	ctx := context.Background()

	tmpl, err := r.LoadTemplate(ctx, "check")
	require.NoError(t, err)

	tests := []struct {
		name      string
		lines     int
		wantPages int
	}{
		{name: "no_lines", lines: 0, wantPages: 1},
		{name: "exactly_one_page", lines: 3, wantPages: 1},
		{name: "overflow", lines: 4, wantPages: 2},
		{name: "three_pages", lines: 7, wantPages: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := r.Render(ctx, tmpl, params(tt.lines))
			require.NoError(t, err)
			require.Len(t, pages, tt.wantPages)

			first := string(pages[0].Content)
			assert.Contains(t, first, "Pay to the order of: Acme Supply")
			assert.Contains(t, first, "1250.50 USD")
			assert.Contains(t, first, "No. 101")
			for _, p := range pages[1:] {
				assert.Contains(t, string(p.Content), "*** VOID ***")
				assert.NotContains(t, string(p.Content), "Pay to the order of")
			}
		})
	}
}

func TestTextRenderer_LoadTemplateCached(t *testing.T) {
	r := NewTextRenderer(DefaultConfig(), mocks.NewRecordingLogger())
	ctx := context.Background()

	first, err := r.LoadTemplate(ctx, "check")
	require.NoError(t, err)
	second, err := r.LoadTemplate(ctx, "check")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "check", first.ID())
}

func TestTextRenderer_DirectoryOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	src := "{{ .RecipientName }}\f{{ .Number }}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "check.tmpl"), []byte(src), 0o600))

	r := NewTextRenderer(Config{Dir: dir}, mocks.NewRecordingLogger())
	tmpl, err := r.LoadTemplate(context.Background(), "check")
	require.NoError(t, err)

	pages, err := r.Render(context.Background(), tmpl, params(0))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Acme Supply", string(pages[0].Content))
	assert.Equal(t, "101", string(pages[1].Content))
}

func TestTextRenderer_LoadTemplateErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte("{{ .Nope "), 0o600))
	r := NewTextRenderer(Config{Dir: dir}, mocks.NewRecordingLogger())

	for _, id := range []string{"missing", "", "../check", "broken"} {
		_, err := r.LoadTemplate(context.Background(), id)
		assert.Error(t, err, id)
	}
}

func TestRemittancePages(t *testing.T) {
	lines := make([]domain.RemittanceLine, 5)
	chunks := remittancePages(lines, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)

	assert.Len(t, remittancePages(nil, 2), 1)
}
