package session

import (
	"log/slog"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/acl"
	"github.com/seedlink4go/seedlink4/internal/config"
	"github.com/seedlink4go/seedlink4/internal/format"
	"github.com/seedlink4go/seedlink4/internal/info"
	"github.com/seedlink4go/seedlink4/internal/ratelimit"
	"github.com/seedlink4go/seedlink4/internal/storage"
)

// Authenticator checks a USERPASS credential pair. The credential check
// itself is delegated (§1's Non-goals); a nil Authenticator accepts any
// non-empty username, recording it for ACL purposes only.
type Authenticator func(user, pass string) bool

// Deps bundles every collaborator a Session needs, built once per
// listener and shared by every accepted connection.
type Deps struct {
	Config        *config.Config
	Store         *storage.Storage
	Formats       *format.Registry
	Info          *info.Server
	Hub           *Hub
	TrustedACL    *acl.ACL
	AccessACL     *acl.ACL
	Authenticator Authenticator
	Logger        *slog.Logger

	FeedBytesPerSec int64
	CommandsPerSec  int64
	SoftwareVersion string

	// SessionLogDir, when non-empty, makes each connection additionally log
	// to its own file under SessionLogDir (see internal/logging.
	// NewSessionLogger); empty disables per-connection log files.
	SessionLogDir string
}

// NewDeps builds the shared dependency set for a listener from cfg.
func NewDeps(cfg *config.Config, store *storage.Storage, logger *slog.Logger, auth Authenticator) *Deps {
	formats := format.NewDefaultRegistry()
	software := "seedlink4|4.0"
	return &Deps{
		Config:          cfg,
		Store:           store,
		Formats:         formats,
		Info:            info.New(store, formats, cfg.Organization, software, time.Now()),
		Hub:             NewHub(),
		TrustedACL:      acl.New(cfg.Trusted),
		AccessACL:       acl.New(cfg.Access),
		Authenticator:   auth,
		Logger:          logger,
		FeedBytesPerSec: cfg.RateLimit.FeedBytesPerSec,
		CommandsPerSec:  cfg.RateLimit.CommandsPerSec,
		SoftwareVersion: software,
		SessionLogDir:   cfg.Logging.SessionLogDir,
	}
}

// newCommandLimiter builds this session's command-rate limiter from the
// shared config.
func (d *Deps) newCommandLimiter() *ratelimit.CommandLimiter {
	return ratelimit.NewCommandLimiter(d.CommandsPerSec)
}

// ringDefaults returns the ring capacity/blocksize/ordering a brand new
// station should be created with: a per-station override from
// config.Stations if one matches name, otherwise the storage-wide default.
func (d *Deps) ringDefaults(name string) (nblocks, blocksize uint64, ordered bool) {
	if st, ok := d.Config.Stations[name]; ok {
		nblocks = uint64(st.Segments)
		blocksize = uint64(st.SegSizeRaw)
		ordered = st.Ordered
		return
	}
	return uint64(d.Config.Storage.Segments), uint64(d.Config.Storage.SegSizeRaw), true
}

// accessACL returns the per-station access ACL override if configured,
// otherwise the listener-wide default.
func (d *Deps) accessACL(name string) *acl.ACL {
	if st, ok := d.Config.Stations[name]; ok && strings.TrimSpace(st.Access) != "" {
		return acl.New(st.Access)
	}
	return d.AccessACL
}
