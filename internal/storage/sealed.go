package storage

import (
	"context"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/crypto"
)

type sealedStore struct {
	Store
	sealer *crypto.Sealer
}

// Sealed wraps store so password fields are encrypted on Save and
// decrypted on List and Get.
func Sealed(store Store, sealer *crypto.Sealer) Store {
	return &sealedStore{Store: store, sealer: sealer}
}

func (s *sealedStore) List(ctx context.Context) ([]Record, error) {
	records, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Raw, err = s.sealer.OpenRaw(records[i].Raw); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *sealedStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec.Raw, err = s.sealer.OpenRaw(rec.Raw)
	return rec, err
}

func (s *sealedStore) Save(ctx context.Context, raw clientconfig.Raw) error {
	sealed, err := s.sealer.SealRaw(raw)
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, sealed)
}
