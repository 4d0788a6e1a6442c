package server

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"sessionstore/internal/lookup"
)

// ClientIDKey is the metadata key carrying the client id, both on requests
// and on the response header of a minted id.
const ClientIDKey = "x-client-id"

// metadataIDs reads the client id from incoming metadata. With mint set, a
// caller without one is given a new UUID.
type metadataIDs struct {
	mint bool
}

var _ lookup.ClientIDProvider = metadataIDs{}

func (p metadataIDs) ClientID(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(ClientIDKey); len(ids) > 0 && ids[0] != "" {
			return ids[0], nil
		}
	}
	if !p.mint {
		return "", lookup.ErrNoClientID
	}

	id := uuid.NewString()
	if err := grpc.SetHeader(ctx, metadata.Pairs(ClientIDKey, id)); err != nil {
		return "", err
	}
	return id, nil
}
