package ebook

import "strings"

// ApplyToolOutput parses the metadata tool's structured text output into the
// record's metadata map, building the composite key inputs. It reports a
// CorruptEbookError when nothing could be extracted.
//
// The parsing rules follow the wire-stable conventions of the catalog
// protocol: the DRM-stripped marker and any embedded catalog id live inside
// the comma-separated tags field and are lifted out; the tool's "Published"
// label is renamed publish_date.
func (r *Record) ApplyToolOutput(out string) error {
	fields := map[string]string{}

	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "title"):
			setIfAbsent(fields, "title", valueAfterColon(line))
		case strings.HasPrefix(lower, "publisher"):
			setIfAbsent(fields, "publisher", valueAfterColon(line))
		case strings.HasPrefix(lower, "published"):
			setIfAbsent(fields, "publish_date", valueAfterColon(line))
		case strings.Contains(line, "Tags"):
			fields["tags"] = r.parseTags(valueAfterColon(line), fields)
		case strings.Contains(line, "Author"):
			firstname, lastname := ParseAuthor(valueAfterColon(line))
			fields["firstname"] = firstname
			fields["lastname"] = lastname
		case strings.Contains(line, "Identifiers"):
			r.parseIdentifiers(valueAfterColon(line), fields)
		}
	}

	if len(fields) == 0 {
		return &CorruptEbookError{Path: r.Path, Msg: "no metadata extracted"}
	}

	for key, value := range fields {
		r.Meta[key] = value
	}
	return nil
}

// parseTags strips the DRM marker and any embedded catalog id from the tag
// list, recording both on the record, and returns the remaining tags.
func (r *Record) parseTags(raw string, fields map[string]string) string {
	if raw == "" {
		return ""
	}
	tags := strings.Split(raw, ", ")
	kept := tags[:0]
	for _, tag := range tags {
		switch {
		case strings.Contains(tag, DeDRMTag):
			r.DRMFree = true
		case strings.Contains(tag, "ogre_id"):
			if id := embeddedIDValue(tag); id != "" {
				fields["ebook_id"] = id
				r.EbookID = id
			}
		default:
			kept = append(kept, tag)
		}
	}
	return strings.Join(kept, ", ")
}

func (r *Record) parseIdentifiers(raw string, fields map[string]string) {
	for _, ident := range strings.Split(raw, ",") {
		ident = strings.TrimSpace(ident)
		switch {
		case strings.HasPrefix(ident, "mobi-asin"):
			fields["mobi-asin"] = valueAfterColon(ident)
		case strings.HasPrefix(ident, "isbn"):
			fields["isbn"] = valueAfterColon(ident)
		case strings.HasPrefix(ident, "asin"):
			fields["asin"] = valueAfterColon(ident)
		case strings.HasPrefix(ident, "uri"):
			fields["uri"] = valueAfterColon(ident)
		case strings.HasPrefix(ident, "epubbud"):
			fields["epubbud"] = valueAfterColon(ident)
		case strings.HasPrefix(ident, "ogre_id"):
			fields["ebook_id"] = valueAfterColon(ident)
			r.EbookID = fields["ebook_id"]
		}
	}

	// Amazon tools write the same ASIN under both labels; keep one copy and
	// promote the Kindle-specific variant when it stands alone.
	mobiASIN, hasMobi := fields["mobi-asin"]
	asin, hasASIN := fields["asin"]
	if hasMobi && !hasASIN {
		fields["asin"] = mobiASIN
		delete(fields, "mobi-asin")
	} else if hasMobi && hasASIN && mobiASIN == asin {
		delete(fields, "mobi-asin")
	}
}

// ParseAuthor splits an author display string into (firstname, lastname).
// A bracketed alias, when present, replaces the whole string; "last, first"
// ordering is honored; otherwise the final space-separated token is the
// surname.
func ParseAuthor(author string) (string, string) {
	if open := strings.Index(author, "["); open > -1 {
		if length := strings.Index(author[open:], "]"); length > -1 {
			author = strings.TrimSpace(author[open+1 : open+length])
		}
	} else {
		author = strings.TrimSpace(author)
	}

	if before, after, found := strings.Cut(author, ","); found {
		return strings.TrimSpace(after), strings.TrimSpace(before)
	}

	names := strings.Fields(author)
	if len(names) == 0 {
		return "", ""
	}
	return strings.Join(names[:len(names)-1], " "), names[len(names)-1]
}

func embeddedIDValue(tag string) string {
	if _, after, found := strings.Cut(tag, "="); found {
		return strings.TrimSpace(after)
	}
	return ""
}

func valueAfterColon(line string) string {
	if idx := strings.Index(line, ":"); idx > -1 {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(line)
}

func setIfAbsent(fields map[string]string, key, value string) {
	if _, ok := fields[key]; !ok {
		fields[key] = value
	}
}
