package common

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

var signPrefix = []byte("\x19Ethereum Signed Message:\n32")

// SignedMessageHash returns the hash an Ethereum wallet signs for a 32-byte digest.
func SignedMessageHash(digest Hash) Hash {
	return Keccak256(signPrefix, digest.Bytes())
}

// EthSignWithKey signs digest as an Ethereum wallet would and returns the
// message hash and the 65-byte signature.
func EthSignWithKey(privateKey *ecdsa.PrivateKey, digest Hash) (Hash, []byte, error) {
	messageHash := SignedMessageHash(digest)
	signature, err := crypto.Sign(messageHash.Bytes(), privateKey)
	if err != nil {
		return Hash{}, nil, fmt.Errorf("error signing the hash: %v", err)
	}
	return messageHash, signature, nil
}

// RecoverSigner returns the address that produced signature over digest.
func RecoverSigner(digest Hash, signature []byte) (Address, error) {
	if len(signature) != crypto.SignatureLength {
		return Address{}, errors.New("invalid signature length")
	}
	pub, err := crypto.SigToPub(SignedMessageHash(digest).Bytes(), signature)
	if err != nil {
		return Address{}, errors.New("error recovering public key from signature")
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// VerifyEthSignature checks that signature over digest was made by signer.
func VerifyEthSignature(signer Address, digest Hash, signature []byte) error {
	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if recovered != signer {
		return errors.New("public key does not match")
	}
	return nil
}

// PrivateKeyAddress derives the account address of a hex private key.
func PrivateKeyAddress(privateKeyHex string) (Address, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return Address{}, err
	}
	return Address(crypto.PubkeyToAddress(privateKey.PublicKey)), nil
}
