package filefield

import (
	"net/url"
	"strings"
)

var _ URLEncoder = PublicURLEncoder{}

// PublicURLEncoder builds URLs that pass the file path as extra path
// segments of the serving endpoint, e.g.
//
//	https://example.com/pluginfile.php/5/profilefield_file/files_3/0/cv.pdf
type PublicURLEncoder struct{}

// Encode appends path to base, escaping each path segment. If forDownload is
// set the URL asks the server to serve the file as an attachment.
func (PublicURLEncoder) Encode(base, path string, forDownload bool) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := base + strings.Join(segments, "/")
	if forDownload {
		u += "?forcedownload=1"
	}
	return u
}
