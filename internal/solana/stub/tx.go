package stub

import (
	"crypto/ed25519"
)

// UnsignedTransaction builds a legacy wire transaction with one empty
// signature slot per signer. The first signer pays the fee; the message
// carries a single instruction to a dummy program.
func UnsignedTransaction(signers ...ed25519.PublicKey) []byte {
	program := make([]byte, 32)
	program[31] = 9
	blockhash := make([]byte, 32)
	for i := range blockhash {
		blockhash[i] = byte(i + 1)
	}

	msg := []byte{byte(len(signers)), 0, 1}
	msg = append(msg, byte(len(signers)+1))
	for _, s := range signers {
		msg = append(msg, s...)
	}
	msg = append(msg, program...)
	msg = append(msg, blockhash...)
	// One instruction: program index, one account (the payer), 2 data bytes.
	msg = append(msg, 1, byte(len(signers)), 1, 0, 2, 0xde, 0xad)

	out := []byte{byte(len(signers))}
	out = append(out, make([]byte, 64*len(signers))...)
	return append(out, msg...)
}
