package apkg

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	soundRe    = regexp.MustCompile(`\[sound:([^\]]+)\]`)
	imgRe      = regexp.MustCompile(`<img[^>]+src=["']?([^"'\s>]+)["']?[^>]*>`)
	brRe       = regexp.MustCompile(`<br\s*/?>`)
	divOpenRe  = regexp.MustCompile(`<div[^>]*>`)
	pOpenRe    = regexp.MustCompile(`<p[^>]*>`)
	spanRe     = regexp.MustCompile(`</?span[^>]*>`)
	formatRe   = regexp.MustCompile(`</?(?:b|i|u|strong|em|font|a)[^>]*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]+>`)
	decimalRe  = regexp.MustCompile(`&#(\d+);`)
	hexRe      = regexp.MustCompile(`&#[xX]([0-9a-fA-F]+);`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
	"&mdash;", "—",
	"&ndash;", "–",
	"&hellip;", "…",
	"&copy;", "©",
	"&reg;", "®",
	"&trade;", "™",
	"&laquo;", "«",
	"&raquo;", "»",
	"&bull;", "•",
	"&middot;", "·",
	"&times;", "×",
	"&divide;", "÷",
	"&plusmn;", "±",
	"&deg;", "°",
	"&prime;", "′",
	"&Prime;", "″",
)

// CleanHTML converts Anki's HTML field markup to the plain text card format.
//
// Sound references [sound:f] become markdown audio links [🔊 f](media:f) and
// <img src=f> becomes ![f](media:f); both keep the original filename, which
// the importer later rewrites to a content address. Line-break and block
// tags turn into newlines, inline formatting tags are stripped, any leftover
// tags are removed, and HTML entities (named and numeric) are decoded.
func CleanHTML(html string) string {
	text := soundRe.ReplaceAllString(html, "[\U0001F50A $1](media:$1)")
	text = imgRe.ReplaceAllString(text, "![$1](media:$1)")

	text = brRe.ReplaceAllString(text, "\n")
	text = divOpenRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</div>", "\n")
	text = pOpenRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</p>", "\n")

	text = spanRe.ReplaceAllString(text, "")
	text = formatRe.ReplaceAllString(text, "")
	text = anyTagRe.ReplaceAllString(text, "")

	text = decodeEntities(text)
	text = strings.TrimSpace(text)
	return newlinesRe.ReplaceAllString(text, "\n\n")
}

func decodeEntities(text string) string {
	text = entities.Replace(text)
	text = decimalRe.ReplaceAllStringFunc(text, func(m string) string {
		return runeFor(m[2:len(m)-1], 10)
	})
	return hexRe.ReplaceAllStringFunc(text, func(m string) string {
		return runeFor(m[3:len(m)-1], 16)
	})
}

// runeFor decodes one numeric entity body; out-of-range code points vanish.
func runeFor(digits string, base int) string {
	code, err := strconv.ParseUint(digits, base, 32)
	if err != nil || !utf8.ValidRune(rune(code)) {
		return ""
	}
	return string(rune(code))
}
