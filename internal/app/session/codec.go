package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// PreferCodec returns offer with the payload types of codec moved to the
// front of every video m-line. Only the format list of those m-lines changes;
// all other lines, including rtpmap/fmtp attributes, are kept verbatim. An
// offer without the codec is returned unchanged.
func PreferCodec(offer, codec string) (string, error) {
	if codec == "" {
		return offer, nil
	}
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(offer); err != nil {
		return offer, fmt.Errorf("parse offer: %w", err)
	}

	// formats per m-line, in order of appearance; nil for non-video sections
	reordered := make([][]string, len(desc.MediaDescriptions))
	for i, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		reordered[i] = preferFormats(md, codec)
	}

	lines := strings.Split(offer, "\n")
	section := -1
	for i, line := range lines {
		body := strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(body, "m=") {
			continue
		}
		section++
		if section >= len(reordered) || reordered[section] == nil {
			continue
		}
		fields := strings.Fields(body)
		if len(fields) < 3 {
			continue
		}
		rewritten := strings.Join(append(fields[:3:3], reordered[section]...), " ")
		lines[i] = rewritten + line[len(body):]
	}
	return strings.Join(lines, "\n"), nil
}

// preferFormats keeps the relative order of both groups stable.
func preferFormats(md *sdp.MediaDescription, codec string) []string {
	names := rtpmapNames(md)
	var first, rest []string
	for _, f := range md.MediaName.Formats {
		if strings.EqualFold(names[f], codec) {
			first = append(first, f)
		} else {
			rest = append(rest, f)
		}
	}
	if len(first) == 0 {
		return nil
	}
	return append(first, rest...)
}

// rtpmapNames maps payload type to encoding name for one media section.
func rtpmapNames(md *sdp.MediaDescription) map[string]string {
	names := make(map[string]string)
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		pt, enc, ok := strings.Cut(a.Value, " ")
		if !ok {
			continue
		}
		if _, err := strconv.ParseUint(pt, 10, 8); err != nil {
			continue
		}
		name, _, _ := strings.Cut(enc, "/")
		names[pt] = name
	}
	return names
}
