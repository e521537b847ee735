package gateway

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dailypair/internal/observability"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const maxAvatarBytes = 4 << 20

// Avatar is an image ready to attach to a reply.
type Avatar struct {
	Data []byte
	MIME string
}

// AvatarFetcher downloads and normalizes user avatars.
type AvatarFetcher struct {
	template string
	size     int
	http     *http.Client
}

// NewAvatarFetcher builds a fetcher. template may contain {user} and {size}.
func NewAvatarFetcher(template string, size int, timeout time.Duration) *AvatarFetcher {
	return &AvatarFetcher{
		template: template,
		size:     size,
		http:     &http.Client{Timeout: timeout},
	}
}

// URL returns the avatar address for userID.
func (f *AvatarFetcher) URL(userID string) string {
	return strings.NewReplacer("{user}", userID, "{size}", strconv.Itoa(f.size)).Replace(f.template)
}

// Fetch downloads the avatar. Only a 200 response with an image content type
// is accepted. Decodable images are scaled to size x size and re-encoded as PNG.
func (f *AvatarFetcher) Fetch(ctx context.Context, userID string) (*Avatar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		observability.GatewayRequests.WithLabelValues("avatar", "error").Inc()
		return nil, fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.Contains(contentType, "image") {
		observability.GatewayRequests.WithLabelValues("avatar", "rejected").Inc()
		return nil, fmt.Errorf("avatar response %s with content type %q", resp.Status, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		observability.GatewayRequests.WithLabelValues("avatar", "error").Inc()
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	observability.GatewayRequests.WithLabelValues("avatar", "ok").Inc()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// unknown format, pass through untouched
		return &Avatar{Data: data, MIME: contentType}, nil
	}
	return f.normalize(img)
}

func (f *AvatarFetcher) normalize(img image.Image) (*Avatar, error) {
	b := img.Bounds()
	if f.size > 0 && (b.Dx() != f.size || b.Dy() != f.size) {
		dst := image.NewRGBA(image.Rect(0, 0, f.size, f.size))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return &Avatar{Data: buf.Bytes(), MIME: "image/png"}, nil
}
