package fetcher

import (
	"context"
	"encoding/xml"
	"io"
	"slices"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// StreamXML decodes every element whose local name is one of names into T
// and sends it on the returned channel. Feeds in the wild are sloppy, so the
// decoder is non-strict, knows the HTML entities and decodes legacy charsets
// such as Big5. Both channels are closed when the input is exhausted.
func StreamXML[T any](ctx context.Context, r io.Reader, names ...string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := newFeedDecoder(r)
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || !slices.Contains(names, se.Name.Local) {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrapf(err, "xml: decode <%s>", se.Name.Local)
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// CollectXML drains StreamXML into a slice, stopping at limit items when
// limit > 0.
func CollectXML[T any](ctx context.Context, r io.Reader, limit int, names ...string) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	itemCh, errCh := StreamXML[T](ctx, r, names...)
	var out []T
	for item := range itemCh {
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			cancel()
			return out, nil
		}
	}
	if err := <-errCh; err != nil {
		return out, err
	}
	return out, nil
}

// feedAutoClose is xml.HTMLAutoClose without "link", which RSS uses as a
// regular element with text content.
var feedAutoClose = slices.DeleteFunc(slices.Clone(xml.HTMLAutoClose), func(s string) bool {
	return s == "link"
})

func newFeedDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.AutoClose = feedAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return d
}
