package widget

// Option is one filter link discovered in a source document.
type Option struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// NewOption returns an Option and reports whether it satisfies the
// non-empty name and url invariant.
func NewOption(name, url, imageURL string) (Option, bool) {
	o := Option{Name: name, URL: url, ImageURL: imageURL}
	return o, o.Valid()
}

// Valid reports whether the option has both a name and a url.
func (o Option) Valid() bool { return o.Name != "" && o.URL != "" }
