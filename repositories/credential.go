package repositories

import (
	"chat-session/domain"
	"chat-session/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const credentialKey = "session:credential"

// CredentialRepository is a TokenStore that survives restarts of the
// client. The access credential is kept under a single key, encoded as a
// protobuf Struct.
type CredentialRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCredentialRepository(db *badger.DB, log *slog.Logger) CredentialRepository {
	return CredentialRepository{db: db, log: log}
}

func (r CredentialRepository) Set(credential domain.Credential) error {
	bytes, err := encodeCredential(credential)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credentialKey), bytes)
	})
}

// Get reports false when nothing is stored or the stored value is unreadable.
func (r CredentialRepository) Get() (domain.Credential, bool) {
	var credential domain.Credential
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credentialKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			credential, err = decodeCredential(val)
			return err
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return domain.Credential{}, false
	case err != nil:
		r.log.Warn("Unable to read stored credential", "error", err)
		return domain.Credential{}, false
	}
	return credential, !credential.IsZero()
}

func (r CredentialRepository) Clear() error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(credentialKey))
	})
}

func encodeCredential(credential domain.Credential) ([]byte, error) {
	fields := map[string]any{"accessToken": credential.AccessToken}
	if !credential.ExpiresAt.IsZero() {
		fields["expiresAt"] = credential.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	value, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding credential: %w", err)
	}
	return proto.Marshal(value)
}

func decodeCredential(bytes []byte) (domain.Credential, error) {
	var value structpb.Struct
	if err := proto.Unmarshal(bytes, &value); err != nil {
		return domain.Credential{}, fmt.Errorf("decoding credential: %w", err)
	}
	fields := value.GetFields()
	credential := domain.Credential{AccessToken: fields["accessToken"].GetStringValue()}
	if raw := fields["expiresAt"].GetStringValue(); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("decoding credential expiry: %w", err)
		}
		credential.ExpiresAt = expiresAt
	}
	return credential, nil
}
