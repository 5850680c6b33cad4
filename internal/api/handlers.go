package api

import (
	"errors"
	"net/http"

	"github.com/adarena/engine/internal/buildinfo"
	"github.com/adarena/engine/internal/service"
)

// HandleHealth is the unauthenticated liveness endpoint.
func HandleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "match-engine",
			"version": buildinfo.Version,
		})
	})
}

// HandleProvision stands up a match's infrastructure.
func HandleProvision(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req service.ProvisionRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		inf, err := svc.Provision(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"infrastructure": inf,
		})
	})
}

// HandleStart admits a match and drives it to RUNNING.
func HandleStart(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req service.StartRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if err := svc.Start(req); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	})
}

// HandleStatus returns only the match's lifecycle state.
func HandleStatus(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := requireMatchID(w, r)
		if !ok {
			return
		}
		st, err := svc.Status(matchID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"matchId": matchID,
			"state":   string(st),
		})
	})
}

// HandleInfrastructure returns the match's infrastructure record.
func HandleInfrastructure(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := requireMatchID(w, r)
		if !ok {
			return
		}
		inf, err := svc.Infrastructure(matchID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"infrastructure": inf,
		})
	})
}

// HandleStop drives the match to ENDED. Safe to repeat.
func HandleStop(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := requireMatchID(w, r)
		if !ok {
			return
		}
		if err := svc.Stop(matchID); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	})
}

// HandleCleanup tears down remaining infrastructure. Safe to repeat.
func HandleCleanup(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := requireMatchID(w, r)
		if !ok {
			return
		}
		if err := svc.Cleanup(matchID); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
}

// HandleSubmitFlag validates and records one flag submission. Every verdict
// uses the same body shape: rejections are 200 with a reason, rate-limit
// refusals the identical shape with status 429.
func HandleSubmitFlag(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req service.SubmitRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		result, err := svc.SubmitFlag(req)
		if err != nil {
			var svcErr *service.ServiceError
			if errors.As(err, &svcErr) && svcErr.Code == service.CodeRateLimited {
				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"status": "rejected",
					"reason": svcErr.Message,
				})
				return
			}
			writeServiceError(w, err)
			return
		}
		if result.Accepted {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"status": "rejected",
			"reason": result.Reason,
		})
	})
}

// HandleResult returns the frozen final result of an ended match.
func HandleResult(svc *service.EngineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := requireMatchID(w, r)
		if !ok {
			return
		}
		result, err := svc.Result(matchID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	})
}
