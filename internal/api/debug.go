package api

import (
    "net/http"
    "time"

    "amburoute/internal/buildinfo"
    "amburoute/internal/store"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    _, redis := s.Broker.(*RedisBroker)
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "addr": s.Cfg.Server.Addr,
            "authMode": s.Auth.Mode,
            "rateRps": s.Cfg.Rate.RPS,
            "rateBurst": s.Cfg.Rate.Burst,
            "webhookMaxAttempts": s.Cfg.Webhooks.MaxAttempts,
            "engineWorkers": s.Cfg.Engine.Workers,
            "maxNodes": s.Cfg.Engine.MaxNodes,
            "hasDatabase": s.Cfg.Database.URL != "",
            "redisBroker": redis,
        },
    }
    if m, ok := s.Store.(*store.Memory); ok {
        info["deadLetters"] = len(m.DeadLetters())
    }
    writeJSON(w, http.StatusOK, info)
}
