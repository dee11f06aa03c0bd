package httpx

import (
	"io"
	"net/http"
	"time"
)

// CatalogProxy passes catalog reads through to the inventory service
// unchanged: same status code, same body.
type CatalogProxy struct {
	Base   string
	Client *http.Client
}

func NewCatalogProxy(base string) *CatalogProxy {
	return &CatalogProxy{
		Base:   base,
		Client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (p *CatalogProxy) Forward(w http.ResponseWriter, r *http.Request, path string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, p.Base+path, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
