package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/SimplyPrint/classic-agent/internal/core"
	"github.com/SimplyPrint/classic-agent/internal/export"
	"github.com/SimplyPrint/classic-agent/internal/logging"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/SimplyPrint/classic-agent/internal/settings"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	// Try to get VCS info from Go's build info
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// cards serves every card operation. Replaced in tests.
var cards core.CardOperations = core.NewService(nil)

// SetCardService sets the card backend used by HTTP and WebSocket handlers.
func SetCardService(ops core.CardOperations) {
	cards = ops
}

// NewMux constructs and returns the HTTP mux for the API.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/readers", corsMiddleware(handleListReaders))
	mux.HandleFunc("/v1/readers/", corsMiddleware(handleReaderRoutes)) // Note the trailing slash for sub-paths
	mux.HandleFunc("/v1/keys", corsMiddleware(handleKeys))
	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/ws", InitWebSocket())
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				// Send to Sentry if enabled
				logging.CapturePanic(rec, stack, context)

				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

// errorStatus maps a card operation error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, mifare.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, mifare.ErrAuthExhausted), errors.Is(err, mifare.ErrBlockAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, mifare.ErrTransceiverLost):
		return http.StatusServiceUnavailable
	case errors.Is(err, mifare.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, mifare.ErrOverflow):
		return http.StatusConflict
	case errors.Is(err, mifare.ErrNotAValueBlock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoCard), errors.Is(err, core.ErrNoReader):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnsupportedCard):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// errorKind is the machine readable error name sent alongside the message.
func errorKind(err error) string {
	switch {
	case errors.Is(err, mifare.ErrNotAValueBlock):
		return "not_a_value_block"
	case errors.Is(err, core.ErrNoCard):
		return "no_card"
	case errors.Is(err, core.ErrNoReader):
		return "no_reader"
	case errors.Is(err, core.ErrUnsupportedCard):
		return "unsupported_card"
	}
	if k := mifare.KindOf(err); k != mifare.KindUnknown {
		return k.String()
	}
	return "internal"
}

// reportError logs a failed card operation. Transport and protocol failures are
// also sent to Sentry when crash reporting is on.
func reportError(cat logging.Category, msg string, err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["error"] = err.Error()
	fields["kind"] = errorKind(err)

	switch {
	case errors.Is(err, mifare.ErrTransceiverLost), errors.Is(err, mifare.ErrMalformedResponse):
		logging.Warn(cat, msg, fields)
		logging.CaptureError(err, msg, fields)
	case errorStatus(err) == http.StatusInternalServerError:
		logging.Error(cat, msg, fields)
	default:
		logging.Debug(cat, msg, fields)
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, errorStatus(err), map[string]string{
		"error": err.Error(),
		"kind":  errorKind(err),
	})
}

func handleListReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	readers := cards.ListReaders()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(readers); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// resolveReader maps an API reader index to a reader name.
func resolveReader(index int) (string, error) {
	return cards.ReaderByIndex(index)
}

func handleReaderRoutes(w http.ResponseWriter, r *http.Request) {
	// Parse path: /v1/readers/{index}/...
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid path",
		})
		return
	}

	readerIndex, err := strconv.Atoi(parts[2])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid reader index",
		})
		return
	}

	if len(parts) < 4 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "missing endpoint (e.g., /card, /dump, /blocks/{b})",
		})
		return
	}

	readerName, err := resolveReader(readerIndex)
	if err != nil {
		respondError(w, err)
		return
	}

	switch parts[3] {
	case "card":
		handleReaderCard(w, r, readerName)
	case "dump":
		handleDump(w, r, readerName)
	case "blocks":
		withIndex(w, parts, "block", func(block int) { handleBlock(w, r, readerName, block) })
	case "values":
		withIndex(w, parts, "block", func(block int) { handleValue(w, r, readerName, block) })
	case "sectors":
		if len(parts) < 6 || parts[5] != "keys" {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "unknown endpoint (use /sectors/{s}/keys)",
			})
			return
		}
		withIndex(w, parts, "sector", func(sector int) { handleSectorKeys(w, r, readerName, sector) })
	default:
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown endpoint",
		})
	}
}

// withIndex parses parts[4] as a block or sector number and calls fn with it.
func withIndex(w http.ResponseWriter, parts []string, what string, fn func(int)) {
	if len(parts) < 5 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "missing " + what + " number",
		})
		return
	}
	n, err := strconv.Atoi(parts[4])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid " + what + " number",
		})
		return
	}
	fn(n)
}

func handleReaderCard(w http.ResponseWriter, r *http.Request, readerName string) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	card, err := cards.GetCard(readerName)
	if err != nil {
		reportError(logging.CatHTTP, "Card read failed", err, map[string]any{"reader": readerName})
		respondError(w, err)
		return
	}
	logging.Info(logging.CatCard, "Card read", map[string]any{
		"reader": readerName,
		"uid":    card.UID,
		"type":   card.Type,
	})
	respondJSON(w, http.StatusOK, card)
}

func handleDump(w http.ResponseWriter, r *http.Request, readerName string) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	report, err := cards.Dump(r.Context(), readerName, nil)
	if err != nil {
		reportError(logging.CatDump, "Dump failed", err, map[string]any{"reader": readerName})
		respondError(w, err)
		return
	}
	if report.Truncated && !errors.Is(r.Context().Err(), context.Canceled) {
		logging.CaptureError(fmt.Errorf("dump truncated at sector %d: %s", report.TruncatedAt, report.Reason), "dump", map[string]any{"reader": readerName})
	}

	doc := export.NewDocument(report, "classic-agent "+Version)
	w.Header().Set("Content-Type", format.ContentType())
	if format != export.FormatJSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename(format)))
	}
	if err := export.Encode(w, doc, format); err != nil {
		logging.Error(logging.CatDump, "Dump export failed", map[string]any{
			"format": string(format),
			"error":  err.Error(),
		})
	}
}

// parseKey reads an optional explicit key. An empty keyHex means "use the key ring".
func parseKey(keyHex, keyType string) (*mifare.Key, error) {
	if keyHex == "" {
		return nil, nil
	}
	value, err := mifare.ParseKeyValue(keyHex)
	if err != nil {
		return nil, err
	}
	kt := mifare.KeyA
	if keyType != "" {
		if kt, err = mifare.ParseKeyType(keyType); err != nil {
			return nil, err
		}
	}
	return &mifare.Key{Type: kt, Value: value}, nil
}

// handleBlock handles read/write operations on MIFARE Classic blocks
// GET /v1/readers/{n}/blocks/{block} - Read block
// POST /v1/readers/{n}/blocks/{block} - Write block
func handleBlock(w http.ResponseWriter, r *http.Request, readerName string, block int) {
	switch r.Method {
	case http.MethodGet:
		key, err := parseKey(r.URL.Query().Get("key"), r.URL.Query().Get("keyType"))
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}

		result, err := cards.ReadBlock(readerName, block, key)
		if err != nil {
			reportError(logging.CatHTTP, "MIFARE read failed", err, map[string]any{
				"reader": readerName,
				"block":  block,
			})
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var req struct {
			Data    string `json:"data"`    // Hex string, 32 chars = 16 bytes
			Key     string `json:"key"`     // Optional, hex string, 12 chars = 6 bytes
			KeyType string `json:"keyType"` // Optional, "A" or "B"
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body",
			})
			return
		}

		data, err := hex.DecodeString(req.Data)
		if err != nil || len(data) != mifare.BlockSize {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid data (must be 32 hex characters for 16 bytes)",
			})
			return
		}
		key, err := parseKey(req.Key, req.KeyType)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}

		if err := cards.WriteBlock(readerName, block, data, key); err != nil {
			reportError(logging.CatHTTP, "MIFARE write failed", err, map[string]any{
				"reader": readerName,
				"block":  block,
			})
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{
			"success": true,
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleValue reads or updates a value block
// GET /v1/readers/{n}/values/{block}
// POST /v1/readers/{n}/values/{block} {"op":"init|increment|decrement","value":N}
func handleValue(w http.ResponseWriter, r *http.Request, readerName string, block int) {
	switch r.Method {
	case http.MethodGet:
		key, err := parseKey(r.URL.Query().Get("key"), r.URL.Query().Get("keyType"))
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		result, err := cards.ReadValue(readerName, block, key)
		if err != nil {
			reportError(logging.CatHTTP, "Value read failed", err, map[string]any{
				"reader": readerName,
				"block":  block,
			})
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var req struct {
			Op      string `json:"op"`
			Value   *int32 `json:"value"`
			Key     string `json:"key"`
			KeyType string `json:"keyType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body",
			})
			return
		}
		op, err := core.ParseValueOp(req.Op)
		if err != nil {
			respondError(w, err)
			return
		}
		if req.Value == nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "value is required",
			})
			return
		}
		key, err := parseKey(req.Key, req.KeyType)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}

		result, err := cards.UpdateValue(readerName, block, op, *req.Value, key)
		if err != nil {
			reportError(logging.CatHTTP, "Value update failed", err, map[string]any{
				"reader": readerName,
				"block":  block,
				"op":     string(op),
			})
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleSectorKeys replaces both keys of a sector
// POST /v1/readers/{n}/sectors/{s}/keys {"keyA":"...","keyB":"...","key":"...","keyType":"A"}
func handleSectorKeys(w http.ResponseWriter, r *http.Request, readerName string, sector int) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		KeyA    string `json:"keyA"`
		KeyB    string `json:"keyB"`
		Key     string `json:"key"`     // Optional current key
		KeyType string `json:"keyType"` // Type of the current key
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	keyA, errA := mifare.ParseKeyValue(req.KeyA)
	keyB, errB := mifare.ParseKeyValue(req.KeyB)
	if err := errors.Join(errA, errB); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "keyA and keyB are required: " + err.Error(),
		})
		return
	}
	auth, err := parseKey(req.Key, req.KeyType)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := cards.ChangeKeys(readerName, sector, auth, keyA, keyB); err != nil {
		reportError(logging.CatAuth, "Key change failed", err, map[string]any{
			"reader": readerName,
			"sector": sector,
		})
		respondError(w, err)
		return
	}

	logging.Info(logging.CatAuth, "Sector keys changed", map[string]any{
		"reader": readerName,
		"sector": sector,
	})
	respondJSON(w, http.StatusOK, map[string]bool{
		"success": true,
	})
}

// handleKeys reports the key ring and accepts new candidate keys
// GET /v1/keys
// POST /v1/keys {"key":"A0A1A2A3A4A5","types":["A"]}
func handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, cards.Keys().Info())

	case http.MethodPost:
		var req struct {
			Key   string   `json:"key"`
			Types []string `json:"types"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body",
			})
			return
		}
		value, err := mifare.ParseKeyValue(req.Key)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		var types []mifare.KeyType
		for _, t := range req.Types {
			kt, err := mifare.ParseKeyType(t)
			if err != nil {
				respondJSON(w, http.StatusBadRequest, map[string]string{
					"error": err.Error(),
				})
				return
			}
			types = append(types, kt)
		}

		added := cards.Keys().Learn(value, types...)
		logging.Info(logging.CatAuth, "Key submitted via API", map[string]any{
			"added": added,
		})
		respondJSON(w, http.StatusOK, map[string]any{
			"added": added,
			"keys":  cards.Keys().Info(),
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	// Check if we can list readers (basic health check)
	readers := cards.ListReaders()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Error logged but not returned (header already sent)
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		// Limit (default 100, max 1000)
		limit := 100
		if limitStr := query.Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
				if limit > 1000 {
					limit = 1000
				}
			}
		}

		var minLevel *logging.Level
		if levelStr := query.Get("level"); levelStr != "" {
			if l, err := logging.ParseLevel(levelStr); err == nil {
				minLevel = &l
			}
		}

		var category *logging.Category
		if catStr := query.Get("category"); catStr != "" {
			c := logging.Category(catStr)
			category = &c
		}

		entries := logging.Get().GetEntries(limit, minLevel, category)
		stats := logging.Get().Stats()

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"stats":   stats,
		})

	case http.MethodDelete:
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()

	// Check if requesting a specific crash log
	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
			if limit > 100 {
				limit = 100
			}
		}
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting":       s.CrashReporting,
			"crashReportingActive": logging.SentryEnabled(),
			"learnedKeys":          len(s.LearnedKeys),
		})

	case http.MethodPost:
		var req struct {
			CrashReporting *bool `json:"crashReporting"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body: " + err.Error(),
			})
			return
		}

		if req.CrashReporting != nil {
			if err := settings.SetCrashReporting(*req.CrashReporting); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}

		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting": s.CrashReporting,
			"learnedKeys":    len(s.LearnedKeys),
			"message":        "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}
