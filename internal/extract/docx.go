package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docxText extracts the plain text of a DOCX document. A DOCX file is a zip
// archive whose word/document.xml carries the content as WordprocessingML:
// paragraphs (w:p) with text runs (w:t), and tables (w:tbl) of rows (w:tr)
// and cells (w:tc). Body paragraphs are joined with newlines; table rows are
// appended as a "[Tables]" section with cells joined by " | ".
func docxText(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: failed to open docx archive: %w", err)
	}

	var doc *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("extract: docx has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("extract: failed to open docx document: %w", err)
	}
	defer rc.Close()

	paragraphs, tableRows, err := parseDocumentXML(rc)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(paragraphs, "\n"))
	if len(tableRows) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[Tables]\n")
		sb.WriteString(strings.Join(tableRows, "\n"))
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("extract: docx contains no extractable text")
	}
	return text, nil
}

// parseDocumentXML walks the WordprocessingML stream and collects body
// paragraphs and table rows.
func parseDocumentXML(r io.Reader) (paragraphs []string, tableRows []string, err error) {
	decoder := xml.NewDecoder(r)

	var (
		tableDepth int
		inText     bool
		paragraph  strings.Builder
		cell       strings.Builder
		inCell     bool
		rowCells   []string
	)

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("extract: malformed docx xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth > 0 {
					rowCells = rowCells[:0]
				}
			case "tc":
				if tableDepth > 0 {
					inCell = true
					cell.Reset()
				}
			case "p":
				if tableDepth == 0 {
					paragraph.Reset()
				}
			case "t":
				inText = true
			}

		case xml.CharData:
			if !inText {
				continue
			}
			if inCell {
				cell.Write(t)
			} else if tableDepth == 0 {
				paragraph.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "tr":
				if tableDepth > 0 && len(rowCells) > 0 {
					row := strings.Join(rowCells, " | ")
					if strings.TrimSpace(strings.ReplaceAll(row, "|", "")) != "" {
						tableRows = append(tableRows, row)
					}
				}
			case "tc":
				if inCell {
					rowCells = append(rowCells, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case "p":
				if tableDepth == 0 {
					if text := strings.TrimSpace(paragraph.String()); text != "" {
						paragraphs = append(paragraphs, text)
					}
				} else if inCell {
					// Paragraph break inside a cell becomes a space.
					cell.WriteByte(' ')
				}
			case "t":
				inText = false
			}
		}
	}

	return paragraphs, tableRows, nil
}
