package classifier

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPDF assembles a small but structurally valid PDF with one page per
// entry in pageTexts, each rendered as a single Helvetica text run.
func buildPDF(t *testing.T, pageTexts ...string) []byte {
	t.Helper()
	require.NotEmpty(t, pageTexts)

	var buf bytes.Buffer
	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")

	const catalogNum, pagesNum, fontNum = 1, 2, 3
	pageNum := func(i int) int { return 4 + 2*i }
	contentNum := func(i int) int { return 5 + 2*i }

	kids := ""
	for i := range pageTexts {
		kids += fmt.Sprintf("%d 0 R ", pageNum(i))
	}

	writeObj(catalogNum, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesNum))
	writeObj(pagesNum, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pageTexts)))
	writeObj(fontNum, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pageTexts {
		writeObj(pageNum(i), fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			pagesNum, contentNum(i), fontNum))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		writeObj(contentNum(i), fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	objCount := 3 + 2*len(pageTexts)
	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", objCount+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= objCount; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		objCount+1, catalogNum, xrefPos)

	return buf.Bytes()
}

func TestExtractTextBytesFindsMarker(t *testing.T) {
	data := buildPDF(t, "Summary of Benefits and Coverage: What this Plan Covers")

	text, err := ExtractTextBytes(data, 3)
	require.NoError(t, err)
	require.Contains(t, text, TitleMarker)
	require.True(t, Classify(text).IsSBC)
}

func TestExtractTextBytesHonorsPageCap(t *testing.T) {
	data := buildPDF(t,
		"Table of Contents",
		"Introduction",
		"Plan Year 2024",
		"Summary of Benefits and Coverage",
	)

	capped, err := ExtractTextBytes(data, 3)
	require.NoError(t, err)
	require.NotContains(t, capped, TitleMarker)

	full, err := ExtractTextBytes(data, 0)
	require.NoError(t, err)
	require.Contains(t, full, TitleMarker)
}

func TestExtractTextFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sbc.pdf")
	require.NoError(t, os.WriteFile(path, buildPDF(t, "Summary of Benefits and Coverage"), 0o644))

	text, err := ExtractText(path, 3)
	require.NoError(t, err)
	require.Contains(t, text, TitleMarker)
}

func TestExtractTextBytesCorruptInput(t *testing.T) {
	_, err := ExtractTextBytes([]byte("%PDF-1.4 not actually a pdf"), 3)
	require.Error(t, err)
}

func TestExtractTextBytesEmptyInput(t *testing.T) {
	_, err := ExtractTextBytes(nil, 3)
	require.ErrorIs(t, err, errEmptyPDF)
}

func TestExtractTextMissingFile(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "absent.pdf"), 3)
	require.Error(t, err)
}
