package rpc

import (
	"fmt"

	"github.com/untoldecay/ContextKeeper/internal/export"
	"github.com/untoldecay/ContextKeeper/internal/storage"
)

// handleAdmin multiplexes the administrative surface on one tool so the
// wire protocol stays small.
func (s *Server) handleAdmin(req *Request) Response {
	var args AdminArgs
	if err := decodeArgs(req, &args); err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()

	switch args.Action {
	case "retention_set":
		if args.Policy == nil {
			return fail(req, fmt.Errorf("policy is required: %w", storage.ErrInvalidArgument))
		}
		if err := s.store.SetRetentionPolicy(ctx, args.Policy); err != nil {
			return fail(req, err)
		}
		return ok(req, args.Policy)

	case "retention_list":
		policies, err := s.store.ListRetentionPolicies(ctx)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, policies)

	case "retention_delete":
		if args.ID == "" {
			return fail(req, fmt.Errorf("id is required: %w", storage.ErrInvalidArgument))
		}
		if err := s.store.DeleteRetentionPolicy(ctx, args.ID); err != nil {
			return fail(req, err)
		}
		return ok(req, map[string]string{"id": args.ID, "action": "deleted"})

	case "retention_apply":
		result, err := s.store.ApplyRetention(ctx, args.DryRun)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, result)

	case "flag_set":
		if args.Flag == nil {
			return fail(req, fmt.Errorf("flag is required: %w", storage.ErrInvalidArgument))
		}
		if err := s.store.SetFeatureFlag(ctx, args.Flag); err != nil {
			return fail(req, err)
		}
		return ok(req, args.Flag)

	case "flag_get":
		if args.Name == "" {
			return fail(req, fmt.Errorf("name is required: %w", storage.ErrInvalidArgument))
		}
		flag, err := s.store.GetFeatureFlag(ctx, args.Name)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, flag)

	case "flag_list":
		flags, err := s.store.ListFeatureFlags(ctx)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, flags)

	case "migrate_status":
		applied, err := s.store.MigrationStatus(ctx)
		if err != nil {
			return fail(req, err)
		}
		pending, err := s.store.PendingMigrations(ctx)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, map[string]interface{}{
			"applied": applied,
			"pending": pending,
		})

	case "migrate_rollback":
		if err := s.store.RollbackLastMigration(ctx); err != nil {
			return fail(req, err)
		}
		return ok(req, map[string]string{"action": "rolled_back"})

	case "export":
		return s.adminExport(req, args)

	case "import":
		return s.adminImport(req, args)

	case "stats":
		stats, err := s.store.DatabaseStats(ctx)
		if err != nil {
			return fail(req, err)
		}
		return ok(req, stats)

	default:
		return fail(req, fmt.Errorf("unknown admin action %q: %w", args.Action, storage.ErrInvalidArgument))
	}
}

func (s *Server) adminExport(req *Request, args AdminArgs) Response {
	if args.Path == "" {
		return fail(req, fmt.Errorf("path is required: %w", storage.ErrInvalidArgument))
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}
	format, err := export.ParseFormat(args.Format)
	if err != nil {
		return fail(req, err)
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	count, err := s.exporter.ExportToFile(ctx, args.Path, sessionID, format)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, ExportResponse{Path: args.Path, Count: count})
}

func (s *Server) adminImport(req *Request, args AdminArgs) Response {
	if args.Path == "" {
		return fail(req, fmt.Errorf("path is required: %w", storage.ErrInvalidArgument))
	}
	sessionID, err := s.resolveSession(args.SessionID)
	if err != nil {
		return fail(req, err)
	}

	// Format "" lets ImportFile infer from the extension.
	var format export.Format
	if args.Format != "" {
		format, err = export.ParseFormat(args.Format)
		if err != nil {
			return fail(req, err)
		}
	}

	ctx, cancel := s.reqCtx()
	defer cancel()
	result, err := s.exporter.ImportFile(ctx, args.Path, sessionID, format)
	if err != nil {
		return fail(req, err)
	}
	return ok(req, ExportResponse{
		Path:     args.Path,
		Imported: result.Imported,
		Skipped:  result.Skipped,
	})
}
