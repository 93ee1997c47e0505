package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"

	"cvtor/internal/resume"
)

// Run sizes are half-points.
const (
	sizeName     = "40"
	sizeTitle    = "24"
	sizeContacts = "20"
	sizeHeading1 = "32"
	sizeHeading2 = "26"
)

const bulletPrefix = "• "

// WriteDOCX lays out the payload as a linear document. Sections without data are skipped.
func WriteDOCX(w io.Writer, p resume.Payload) error {
	doc := docx.New().WithDefaultTheme()

	if p.Profile.Name != "" {
		doc.AddParagraph().AddText(p.Profile.Name).Size(sizeName).Bold()
	}
	if p.Profile.Title != "" {
		doc.AddParagraph().AddText(p.Profile.Title).Size(sizeTitle)
	}
	if line := joinNonEmpty(" | ", p.Profile.Contacts.Email, p.Profile.Contacts.Phone, p.Profile.Contacts.Location); line != "" {
		doc.AddParagraph().AddText(line).Size(sizeContacts)
	}

	if p.Summary != "" {
		heading(doc, "Résumé", sizeHeading1)
		doc.AddParagraph().AddText(p.Summary)
	}

	if len(p.Skills.Groups) > 0 {
		heading(doc, "Compétences", sizeHeading1)
		for _, group := range p.Skills.Groups {
			if group.Label != "" {
				heading(doc, group.Label, sizeHeading2)
			}
			bullets(doc, group.Items)
		}
	}

	if len(p.Experience) > 0 {
		heading(doc, "Expériences", sizeHeading1)
		for _, item := range p.Experience {
			if title := joinNonEmpty(" - ", item.Role, item.Company); title != "" {
				heading(doc, title, sizeHeading2)
			}
			if dates := joinNonEmpty(" - ", item.Start, item.End); dates != "" {
				doc.AddParagraph().AddText(dates)
			}
			bullets(doc, item.Bullets)
		}
	}

	if len(p.Education) > 0 {
		heading(doc, "Formation", sizeHeading1)
		for _, item := range p.Education {
			if title := joinNonEmpty(" - ", item.Degree, item.School); title != "" {
				heading(doc, title, sizeHeading2)
			}
			if item.Year != "" {
				doc.AddParagraph().AddText(item.Year)
			}
		}
	}

	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}

func heading(doc *docx.Docx, text, size string) {
	doc.AddParagraph().AddText(text).Size(size).Bold()
}

func bullets(doc *docx.Docx, items []string) {
	for _, item := range items {
		doc.AddParagraph().AddText(bulletPrefix + item)
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}
