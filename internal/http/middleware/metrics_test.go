package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/payments/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "{}")
	})
	r.GET("/empty", func(c *gin.Context) {
		// 204 with no body leaves the size at -1, which the size
		// histogram must skip
		c.Status(http.StatusNoContent)
	})

	// counters are package globals shared across tests, so diff against a
	// baseline instead of asserting absolutes
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/payments/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	for _, p := range []string{"/payments/abc", "/nope", "/empty"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	// matched routes are labeled by route pattern, not raw URL
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/payments/:id", "200")); got != baseOK+1 {
		t.Fatalf("payments counter = %v, want %v", got, baseOK+1)
	}
	// unmatched routes fall back to the raw path
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("404 counter = %v, want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("in-flight gauge = %v after completion", inFlight)
	}
}
