package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/router"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// commandEnvelope is the wire shape of one inbound command: op plus a
// raw-JSON args blob whose concrete shape depends on op, same structure as
// the teacher repo's distributed.TaskRequest envelope.
type commandEnvelope struct {
	Op             string          `json:"op"`
	SenderIdentity string          `json:"senderIdentity"`
	TabID          *int            `json:"tabId,omitempty"`
	Args           json.RawMessage `json:"args"`
}

// dispatchHandler adapts HTTP POST /dispatch requests to router.Command
// calls. This stands in for the native-messaging transport a real browser
// extension host would use; the router itself is transport-agnostic.
func dispatchHandler(r *router.Router, log *logger.Logger, containers *containerSet) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var env commandEnvelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			writeResponse(w, router.Response{Success: false, Error: "malformed request body", Code: "INVALID_ARGUMENT"})
			return
		}

		args, err := decodeArgs(router.Op(env.Op), env.Args)
		if err != nil {
			writeResponse(w, router.Response{Success: false, Error: err.Error(), Code: "INVALID_ARGUMENT"})
			return
		}
		if create, isCreate := args.(router.CreateArgs); isCreate {
			containers.add(create.Container)
		}

		var tabID *quicktab.TabId
		if env.TabID != nil {
			t := quicktab.TabId(*env.TabID)
			tabID = &t
		}

		resp := r.Dispatch(router.Command{
			Op:             router.Op(env.Op),
			SenderIdentity: env.SenderIdentity,
			TabID:          tabID,
			Args:           args,
		})
		if !resp.Success && log != nil {
			log.Debug("dispatch rejected", zap.String("op", env.Op), zap.String("code", resp.Code))
		}
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp router.Response) {
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusOK) // failures are a routing-level concern, not a transport error
	}
	json.NewEncoder(w).Encode(resp)
}

func decodeArgs(op router.Op, raw json.RawMessage) (interface{}, error) {
	switch op {
	case router.OpCreateQuickTab:
		var a router.CreateArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpCloseQuickTab, router.OpMinimize, router.OpRestore:
		var a router.IDArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpCloseAll, router.OpCloseMinimized:
		var a router.ContainerArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpUpdatePosition:
		var a router.PositionArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpUpdateSize:
		var a router.SizeArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpSolo, router.OpUnsolo, router.OpMute, router.OpUnmute:
		var a router.VisibilityArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpGetQuickTabs, router.OpGetQuickTab:
		var a router.GetArgs
		return a, json.Unmarshal(raw, &a)
	case router.OpCleanupDeadTabs:
		var a router.CleanupArgs
		return a, json.Unmarshal(raw, &a)
	default:
		return nil, errUnknownOp(op)
	}
}

type errUnknownOp router.Op

func (e errUnknownOp) Error() string { return "unknown op: " + string(e) }
