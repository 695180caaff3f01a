package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MemoProgramIDLegacy is the v1 memo program. Writes use solana.MemoProgramID;
// the legacy id is still parsed on reads.
var MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

// SystemProgramTransferInstruction is the system program's Transfer discriminator.
const SystemProgramTransferInstruction = uint32(2)

// signatureToDomain converts signature-list metadata to a Transaction. Amount,
// memo and addresses need the full transaction.
func signatureToDomain(sig *rpc.TransactionSignature) *Transaction {
	txn := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}
	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time().UTC()
	}
	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
	}
	return txn
}

// parseTransactionFromResult extracts the system transfer and memo from a
// full transaction.
func parseTransactionFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := signatureToDomain(sig)
	if sig.Err != nil || result == nil || result.Transaction == nil {
		return txn, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			// lookup-table program; nothing we write goes through one
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(solana.SystemProgramID):
			amount, from, to, err := parseSystemTransfer(instruction, accountKeys)
			if err != nil {
				continue
			}
			txn.Amount = amount
			if from != nil {
				s := from.String()
				txn.FromAddress = &s
			}
			if to != nil {
				s := to.String()
				txn.ToAddress = &s
			}
		case programID.Equals(solana.MemoProgramID) || programID.Equals(MemoProgramIDLegacy):
			if m := parseMemo(instruction.Data); m != "" {
				txn.Memo = &m
			}
		}
	}

	return txn, nil
}

// parseSystemTransfer decodes a Transfer: [0..4] discriminator, [4..12]
// lamports, accounts [from, to].
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	if len(instruction.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}
	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	account := func(i int) *solana.PublicKey {
		if i >= len(instruction.Accounts) {
			return nil
		}
		idx := int(instruction.Accounts[i])
		if idx >= len(accountKeys) {
			return nil
		}
		addr := accountKeys[idx]
		return &addr
	}

	return amount, account(0), account(1), nil
}

// parseMemo returns the memo text. Some wallets base64 the memo; those are
// decoded when the result is valid UTF-8.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && len(decoded) > 0 && utf8.Valid(decoded) {
		return string(decoded)
	}
	return memo
}
