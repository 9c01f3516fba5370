package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-intel/internal/httpapi"
	"signal-intel/internal/metrics"
	"signal-intel/internal/service"
	"signal-intel/internal/storage"
)

var _ = Describe("Router", func() {
	var (
		router *gin.Engine
		ops    *mockOperations
		token  string
	)

	JustBeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = httpapi.NewRouter(ops, metrics.NewRegistry(), httpapi.RouterConfig{TriggerToken: token}, zerolog.Nop())
	})

	BeforeEach(func() {
		ops = &mockOperations{}
		token = ""
	})

	do := func(method, path, body string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]interface{} {
		var resp map[string]interface{}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("reports health", func() {
		w := do(http.MethodGet, "/health", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["status"]).To(Equal("ok"))
	})

	It("serves prometheus metrics", func() {
		w := do(http.MethodGet, "/metrics", "")
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	Describe("POST /api/ingest", func() {
		It("stores an array of items", func() {
			var got []storage.RawItem
			ops.ingestFn = func(_ context.Context, items []storage.RawItem) (int, error) {
				got = items
				return len(items), nil
			}

			w := do(http.MethodPost, "/api/ingest", `[{"source_name":"@desk","source_platform":"twitter","content":"cable bid"}]`)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["success"]).To(BeTrue())
			Expect(resp["items_ingested"]).To(BeNumerically("==", 1))
			Expect(got).To(HaveLen(1))
			Expect(got[0].SourceName).To(Equal("@desk"))
		})

		It("returns 400 when the body is not an array", func() {
			w := do(http.MethodPost, "/api/ingest", `{"content":"x"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)["success"]).To(BeFalse())
		})

		It("returns 400 on an empty batch", func() {
			ops.ingestFn = func(context.Context, []storage.RawItem) (int, error) {
				return 0, service.ErrEmptyIngest
			}
			w := do(http.MethodPost, "/api/ingest", `[]`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 413 when the body is too large", func() {
			called := false
			ops.ingestFn = func(context.Context, []storage.RawItem) (int, error) {
				called = true
				return 0, nil
			}
			body := `[{"content":"` + strings.Repeat("x", 5<<20) + `"}]`
			w := do(http.MethodPost, "/api/ingest", body)
			Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			resp := decode(w)
			Expect(resp["success"]).To(BeFalse())
			Expect(resp["error"]).To(ContainSubstring("exceeds"))
			Expect(called).To(BeFalse())
		})

		It("returns 500 when storage fails", func() {
			ops.ingestFn = func(context.Context, []storage.RawItem) (int, error) {
				return 0, errors.New("db down")
			}
			w := do(http.MethodPost, "/api/ingest", `[{"content":"x"}]`)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("trigger routes", func() {
		It("returns the stage result", func() {
			ops.processFn = func(context.Context) service.ProcessResult {
				return service.ProcessResult{Success: true, RawItemsProcessed: 6, SignalsGenerated: 2}
			}
			w := do(http.MethodPost, "/api/trigger/process", "")
			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["signals_generated"]).To(BeNumerically("==", 2))
		})

		It("returns 500 with success=false when a stage fails", func() {
			ops.validateFn = func(context.Context) service.ValidateResult {
				return service.ValidateResult{Error: "store unavailable"}
			}
			w := do(http.MethodPost, "/api/trigger/validate", "")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			resp := decode(w)
			Expect(resp["success"]).To(BeFalse())
			Expect(resp["error"]).To(Equal("store unavailable"))
		})

		It("routes collect and learn", func() {
			Expect(do(http.MethodPost, "/api/trigger/collect", "").Code).To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/api/trigger/learn", "").Code).To(Equal(http.StatusOK))
		})

		Context("with a trigger token", func() {
			BeforeEach(func() {
				token = "s3cret"
			})

			It("rejects missing credentials", func() {
				Expect(do(http.MethodPost, "/api/trigger/learn", "").Code).To(Equal(http.StatusUnauthorized))
				Expect(do(http.MethodPost, "/api/ingest", `[{"content":"x"}]`).Code).To(Equal(http.StatusUnauthorized))
			})

			It("rejects a wrong token", func() {
				w := do(http.MethodPost, "/api/trigger/learn", "", "Authorization", "Bearer nope")
				Expect(w.Code).To(Equal(http.StatusUnauthorized))
			})

			It("accepts the bearer token", func() {
				w := do(http.MethodPost, "/api/trigger/learn", "", "Authorization", "Bearer s3cret")
				Expect(w.Code).To(Equal(http.StatusOK))
			})

			It("leaves read routes open", func() {
				Expect(do(http.MethodGet, "/api/sources", "").Code).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("GET /api/signals", func() {
		It("caps and forwards the limit", func() {
			var limit int
			ops.signalsFn = func(_ context.Context, n int) ([]storage.Signal, error) {
				limit = n
				return []storage.Signal{{ID: "s1", Type: storage.SignalWhisper, ValidationStatus: storage.StatusPending}}, nil
			}

			w := do(http.MethodGet, "/api/signals?limit=10000", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(limit).To(Equal(500))
			signals := decode(w)["signals"].([]interface{})
			Expect(signals).To(HaveLen(1))
			first := signals[0].(map[string]interface{})
			Expect(first["signal_type"]).To(Equal("whisper"))
			Expect(first["keywords"]).To(BeEmpty())
		})

		It("rejects a bad limit", func() {
			Expect(do(http.MethodGet, "/api/signals?limit=abc", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/sources", func() {
		It("renders decimals as numbers", func() {
			ops.sourcesFn = func(context.Context) ([]storage.SourceCredibility, error) {
				return []storage.SourceCredibility{{
					ID: "a", Name: "Reuters", Platform: "rss_feed", TotalSignals: 4,
					TruePositives: decimal.RequireFromString("2.5"),
					Accuracy:      decimal.RequireFromString("0.625"),
					Weight:        decimal.RequireFromString("1.1"),
				}}, nil
			}

			w := do(http.MethodGet, "/api/sources", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			sources := decode(w)["sources"].([]interface{})
			first := sources[0].(map[string]interface{})
			Expect(first["accuracy"]).To(BeNumerically("~", 0.625))
			Expect(first["weight"]).To(BeNumerically("~", 1.1))
			Expect(first["true_positives"]).To(Equal("2.5"))
		})

		It("returns 500 on store failure", func() {
			ops.sourcesFn = func(context.Context) ([]storage.SourceCredibility, error) {
				return nil, errors.New("boom")
			}
			Expect(do(http.MethodGet, "/api/sources", "").Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
