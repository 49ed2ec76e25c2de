package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/stratahq/stratad/internal"
	"github.com/stratahq/stratad/internal/deploy"
	"github.com/stratahq/stratad/internal/protocol"
	"github.com/stratahq/stratad/internal/status"
	"github.com/stratahq/stratad/internal/upgrade"
)

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	upgrades := s.upgrades
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running:  true,
		Version:  internal.VersionString(),
		Pid:      os.Getpid(),
		Uptime:   uptime.String(),
		Upgrades: upgrades,
		State:    status.Project(s.engine.Manager.Snapshot()),
	})
}

// Handles an upgrade command.
//
// Runs the full upgrade transaction: resolve the reference, import the
// image, stage the deployment, and activate it when requested. The
// transaction is cancelled if the client disconnects before it completes.
func (s *Server) handleUpgrade(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.UpgradeRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	result, err := s.engine.Orchestrator.Run(ctx, upgrade.Options{
		Reference: req.Reference,
		Activate:  req.Activate,
	})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.upgrades++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, &protocol.UpgradeResult{
		Deployment: result.Deployment,
		State:      string(result.State),
	})
}

// Handles a switch command, making a staged deployment the boot target.
//
// A zero ID targets the currently staged deployment.
func (s *Server) handleSwitch(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.SwitchRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	id := req.ID
	if id == 0 {
		staged := s.engine.Manager.Snapshot().ByStatus(deploy.StatusStaged)
		if staged == nil {
			s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: "no staged deployment"})
			return
		}
		id = staged.ID
	}

	if err := s.engine.Manager.Commit(ctx, id); err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.SwitchResult{
		Deployment: *s.engine.Manager.Snapshot().Find(id),
	})
}

// Handles a rollback command.
//
// A zero ID targets the newest rollback deployment.
func (s *Server) handleRollback(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.RollbackRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	id := req.ID
	if id == 0 {
		view := status.Project(s.engine.Manager.Snapshot())
		if len(view.Rollback) == 0 {
			s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: "no rollback deployment"})
			return
		}
		id = view.Rollback[0].ID
	}

	if err := s.engine.Manager.Rollback(ctx, id); err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.SwitchResult{
		Deployment: *s.engine.Manager.Snapshot().Find(id),
	})
}

// Handles a prune command.
func (s *Server) handlePrune(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.PruneRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	keep := s.engine.Settings.Prune.KeepRollback
	if req.KeepRollback != nil {
		keep = *req.KeepRollback
	}

	removed, err := s.engine.Manager.Prune(ctx, deploy.PrunePolicy{KeepRollback: keep})
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.PruneResult{Removed: removed})
}

// Handles a fsck command, re-hashing every object of every deployment.
func (s *Server) handleFsck(ctx context.Context, conn net.Conn) {
	if err := s.engine.Manager.Fsck(ctx); err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	s.respond(conn, protocol.CmdOK, nil)
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
