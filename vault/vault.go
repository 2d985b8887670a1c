// Package vault stores per-team secrets as authenticated ciphertext.
// Keys are derived from a team passphrase with argon2id; items are
// sealed with XChaCha20-Poly1305 using the item id as additional data,
// so a ciphertext cannot be replayed under another item's identity.
// Deletion is soft and final: items disappear from listings but their
// rows stay for audit.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/havenlab/haven"
)

// argon2id parameters, fixed per deployment. Changing them invalidates
// every stored key hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = chacha20poly1305.KeySize
)

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithPepper mixes a deployment-wide secret into the key derivation
// salt. Without it the salt is derived from the team id alone.
func WithPepper(pepper string) Option {
	return func(v *Vault) { v.pepper = []byte(pepper) }
}

// Vault seals and opens team-scoped items over one VaultStore.
type Vault struct {
	store  haven.VaultStore
	pepper []byte
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Vault.
func New(store haven.VaultStore, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		logger: nopLogger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// deriveKey stretches the team passphrase into a cipher key. The salt is
// team-scoped, so equal passphrases on different teams produce unrelated
// keys.
func (v *Vault) deriveKey(teamID, passphrase string) []byte {
	h := sha256.New()
	h.Write([]byte(teamID))
	h.Write(v.pepper)
	salt := h.Sum(nil)
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// keyHash fingerprints a derived key for passphrase verification without
// storing the key itself.
func keyHash(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// PutRequest describes one item to seal.
type PutRequest struct {
	ID       string // empty means a fresh id
	Name     string
	Type     string
	MimeType string
	Metadata map[string]string
	Plain    []byte
}

// Put seals the plaintext and stores the item. Writing over an existing
// id requires the same passphrase that sealed it.
func (v *Vault) Put(ctx context.Context, teamID, passphrase, userID string, req PutRequest) (haven.VaultItem, error) {
	start := time.Now()
	key := v.deriveKey(teamID, passphrase)
	hash := keyHash(key)

	id := req.ID
	now := v.now().Unix()
	createdAt := now
	createdBy := userID
	if id == "" {
		id = haven.NewID()
	} else {
		prev, err := v.store.GetItem(ctx, teamID, id)
		if err == nil {
			if subtle.ConstantTimeCompare([]byte(prev.KeyHash), []byte(hash)) != 1 {
				return haven.VaultItem{}, haven.E(haven.CodeAuth, "vault passphrase mismatch")
			}
			createdAt = prev.CreatedAt
			createdBy = prev.CreatedBy
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return haven.VaultItem{}, haven.Wrap(haven.CodeInternal, "init cipher", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return haven.VaultItem{}, haven.Wrap(haven.CodeInternal, "read nonce", err)
	}
	sealed := aead.Seal(nonce, nonce, req.Plain, []byte(id))

	item := haven.VaultItem{
		ID:         id,
		TeamID:     teamID,
		Name:       req.Name,
		Type:       req.Type,
		Ciphertext: sealed,
		KeyHash:    hash,
		Size:       int64(len(req.Plain)),
		MimeType:   req.MimeType,
		CreatedAt:  createdAt,
		CreatedBy:  createdBy,
		UpdatedAt:  now,
		UpdatedBy:  userID,
		Metadata:   req.Metadata,
	}
	if err := v.store.PutItem(ctx, item); err != nil {
		return haven.VaultItem{}, haven.Wrap(haven.CodeStore, "store vault item", err)
	}
	v.logger.Debug("vault: item sealed", "team_id", teamID, "item_id", id, "size", item.Size, "duration", time.Since(start))
	return item, nil
}

// Open decrypts one item. A wrong passphrase is reported before any
// decryption is attempted, via the stored key hash.
func (v *Vault) Open(ctx context.Context, teamID, passphrase, itemID string) ([]byte, haven.VaultItem, error) {
	item, err := v.store.GetItem(ctx, teamID, itemID)
	if err != nil {
		return nil, haven.VaultItem{}, err
	}
	if item.Deleted {
		return nil, haven.VaultItem{}, haven.E(haven.CodeNotFound, "vault item deleted")
	}

	key := v.deriveKey(teamID, passphrase)
	if subtle.ConstantTimeCompare([]byte(item.KeyHash), []byte(keyHash(key))) != 1 {
		return nil, haven.VaultItem{}, haven.E(haven.CodeAuth, "vault passphrase mismatch")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, haven.VaultItem{}, haven.Wrap(haven.CodeInternal, "init cipher", err)
	}
	if len(item.Ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, haven.VaultItem{}, haven.E(haven.CodeInternal, "vault ciphertext truncated")
	}
	nonce, sealed := item.Ciphertext[:chacha20poly1305.NonceSizeX], item.Ciphertext[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, sealed, []byte(item.ID))
	if err != nil {
		return nil, haven.VaultItem{}, haven.Wrap(haven.CodeAuth, "vault item failed authentication", err)
	}
	return plain, item, nil
}

// List returns the team's live items. Ciphertext is not included.
func (v *Vault) List(ctx context.Context, teamID string) ([]haven.VaultItem, error) {
	items, err := v.store.ListItems(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Ciphertext = nil
	}
	return items, nil
}

// Delete soft-deletes one item. Undeletion is not supported.
func (v *Vault) Delete(ctx context.Context, teamID, itemID, userID string) error {
	if err := v.store.MarkDeleted(ctx, teamID, itemID, userID, v.now().Unix()); err != nil {
		return err
	}
	v.logger.Debug("vault: item deleted", "team_id", teamID, "item_id", itemID, "by", userID)
	return nil
}
