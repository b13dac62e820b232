// Package packager assembles a chapter's pages into a CBZ archive held in
// memory.
package packager

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/JakeFAU/chapterbox/internal/fetcher"
	"github.com/JakeFAU/chapterbox/internal/manga"
)

// ContentType is the MIME type used when uploading archives.
const ContentType = "application/vnd.comicbook+zip"

const defaultExt = ".jpg"

// entryTime is stamped on every entry so identical input yields identical bytes.
var entryTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

var imageExts = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpeg",
	".png":  ".png",
	".webp": ".webp",
	".gif":  ".gif",
	".avif": ".avif",
	".bmp":  ".bmp",
}

// Pack writes images, in the order given, into a new archive named after the
// title and chapter label.
func Pack(images []fetcher.Image, title, chapterLabel string) (*Archive, error) {
	if len(images) == 0 {
		return nil, manga.ErrEmptyChapter
	}

	width := len(strconv.Itoa(len(images)))
	if width < 3 {
		width = 3
	}

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	entries := make([]string, 0, len(images))
	for i, img := range images {
		name := fmt.Sprintf("%0*d%s", width, i+1, Extension(img))
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: entryTime,
		})
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := w.Write(img.Data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
		entries = append(entries, name)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return &Archive{
		filename: Filename(title, chapterLabel),
		entries:  entries,
		data:     buf.Bytes(),
	}, nil
}

// Filename builds "<title> - <chapter>.cbz" with filesystem-unsafe characters
// removed.
func Filename(title, chapterLabel string) string {
	t := Sanitize(title)
	c := Sanitize(chapterLabel)
	switch {
	case t == "" && c == "":
		return "untitled.cbz"
	case t == "":
		return c + ".cbz"
	case c == "":
		return t + ".cbz"
	default:
		return t + " - " + c + ".cbz"
	}
}

// Sanitize strips \ / * ? : " < > | and control characters and collapses
// whitespace.
func Sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/*?:"<>|`, r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.Trim(cleaned, ". ")
}

// Extension infers the entry extension from the image URL path, then from the
// payload, defaulting to .jpg.
func Extension(img fetcher.Image) string {
	if u, err := url.Parse(img.URL); err == nil {
		if ext, ok := imageExts[strings.ToLower(path.Ext(u.Path))]; ok {
			return ext
		}
	}
	if len(img.Data) > 0 {
		if ext, ok := imageExts[mimetype.Detect(img.Data).Extension()]; ok {
			return ext
		}
	}
	return defaultExt
}
