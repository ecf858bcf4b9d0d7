package extractor

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Track is one subtitle track offered by the source.
type Track struct {
	Lang string
	Ext  string
	Auto bool
}

// Info is the metadata probed before any download.
type Info struct {
	ID           string
	Title        string
	Duration     float64 // seconds; 0 when unknown
	Extractor    string
	Language     string
	Subtitles    []Track
	AutoCaptions []Track
}

// HasTracks reports whether any subtitle track is offered.
func (i *Info) HasTracks() bool {
	return len(i.Subtitles) > 0 || len(i.AutoCaptions) > 0
}

// ParseInfo reads the JSON printed by --dump-single-json.
func ParseInfo(payload []byte) (*Info, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("invalid metadata json")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("unexpected metadata shape")
	}

	info := &Info{
		ID:        root.Get("id").String(),
		Title:     strings.TrimSpace(root.Get("title").String()),
		Duration:  root.Get("duration").Float(),
		Extractor: root.Get("extractor_key").String(),
		Language:  root.Get("language").String(),
	}
	if info.Extractor == "" {
		info.Extractor = root.Get("extractor").String()
	}
	info.Subtitles = parseTracks(root.Get("subtitles"), false)
	info.AutoCaptions = parseTracks(root.Get("automatic_captions"), true)
	return info, nil
}

// subtitleExts are the formats SubtitleText understands, in preference order.
var subtitleExts = []string{"vtt", "srt"}

func parseTracks(obj gjson.Result, auto bool) []Track {
	var tracks []Track
	obj.ForEach(func(lang, formats gjson.Result) bool {
		if lang.String() == "live_chat" {
			return true
		}
		offered := map[string]bool{}
		formats.ForEach(func(_, f gjson.Result) bool {
			offered[f.Get("ext").String()] = true
			return true
		})
		for _, ext := range subtitleExts {
			if offered[ext] {
				tracks = append(tracks, Track{Lang: lang.String(), Ext: ext, Auto: auto})
				return true
			}
		}
		// yt-dlp can convert other formats on download.
		if len(offered) > 0 {
			tracks = append(tracks, Track{Lang: lang.String(), Ext: "vtt", Auto: auto})
		}
		return true
	})
	return tracks
}

// PickTrack chooses a subtitle track: original language first, then English,
// then an auto-generated track, then anything offered.
func PickTrack(info *Info) (Track, bool) {
	all := append(append([]Track{}, info.Subtitles...), info.AutoCaptions...)
	if len(all) == 0 {
		return Track{}, false
	}

	find := func(tracks []Track, match func(lang string) bool) (Track, bool) {
		for _, t := range tracks {
			if match(strings.ToLower(t.Lang)) {
				return t, true
			}
		}
		return Track{}, false
	}
	langIs := func(want string) func(string) bool {
		want = strings.ToLower(want)
		return func(lang string) bool { return lang == want || strings.HasPrefix(lang, want+"-") }
	}

	// Original language.
	if info.Language != "" {
		if t, ok := find(info.Subtitles, langIs(info.Language)); ok {
			return t, true
		}
	}
	if t, ok := find(all, func(lang string) bool { return strings.Contains(lang, "orig") }); ok {
		return t, true
	}

	// English.
	if t, ok := find(all, langIs("en")); ok {
		return t, true
	}

	// Auto-generated, in the original language when known.
	if info.Language != "" {
		if t, ok := find(info.AutoCaptions, langIs(info.Language)); ok {
			return t, true
		}
	}
	if len(info.AutoCaptions) > 0 {
		return info.AutoCaptions[0], true
	}

	return info.Subtitles[0], true
}
