package news_extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/newsletter/models"
)

var baseHeader = []string{"Title", "Date", "Description", "Link"}

func hasImages(records []models.ArticleRecord) bool {
	for _, r := range records {
		if r.HasImage() {
			return true
		}
	}
	return false
}

// WriteCSV writes the records as the intermediate table. The ImageURL
// column only appears when at least one record has an image.
func WriteCSV(w io.Writer, records []models.ArticleRecord) error {
	withImage := hasImages(records)
	header := append([]string(nil), baseHeader...)
	if withImage {
		header = append(header, "ImageURL")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{r.Title, r.PublishedDate, r.Description, r.URL}
		if withImage {
			row = append(row, r.ImageURL)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarkdownTable renders the records as a pipe table for the model.
func MarkdownTable(records []models.ArticleRecord) string {
	withImage := hasImages(records)
	header := append([]string(nil), baseHeader...)
	if withImage {
		header = append(header, "ImageURL")
	}

	var b strings.Builder
	writeRow(&b, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, r := range records {
		row := []string{r.Title, r.PublishedDate, r.Description, r.URL}
		if withImage {
			row = append(row, r.ImageURL)
		}
		writeRow(&b, row)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		c = strings.ReplaceAll(c, "|", `\|`)
		c = strings.ReplaceAll(c, "\n", " ")
		b.WriteString(" ")
		b.WriteString(c)
		b.WriteString(" |")
	}
	b.WriteString("\n")
}
