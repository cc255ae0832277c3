package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

const kmsKeyID = "kms"

// KMSDecrypter is the subset of the KMS client used to unwrap data keys
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSKeyRing unwraps a KMS-encrypted data key once at startup and serves it
// as the single active key. The plaintext key never leaves process memory.
func NewKMSKeyRing(ctx context.Context, client KMSDecrypter, keyARN, wrappedKey string) (*StaticKeyRing, error) {
	blob, err := base64.StdEncoding.DecodeString(wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("wrapped data key is not valid base64: %w", err)
	}

	out, err := client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(keyARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}

	return NewStaticKeyRing(kmsKeyID, map[string][]byte{kmsKeyID: out.Plaintext})
}
