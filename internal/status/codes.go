package status

import (
	"sort"
	"strconv"
)

// Code identifies a status keyword emitted by gpg.
type Code int

// Status codes. EOF is a pseudo-code for the end of the status stream and has
// no keyword in the table.
const (
	EOF Code = iota
	Abort
	AlreadySigned
	BadArmor
	BadMDC
	BadSig
	BadPassphrase
	BeginDecryption
	BeginEncryption
	BeginStream
	DecryptionFailed
	DecryptionOkay
	DeleteProblem
	EncTo
	EndDecryption
	EndEncryption
	EndStream
	Enter
	ErrMDC
	ErrSig
	Error
	ExpKeySig
	ExpSig
	FileDone
	FileError
	FileStart
	GetBool
	GetHidden
	GetLine
	GoodMDC
	GoodSig
	GoodPassphrase
	GotIt
	Imported
	ImportRes
	InvRecp
	KeyCreated
	KeyExpired
	KeyRevoked
	Leave
	MissingPassphrase
	NeedPassphrase
	NeedPassphraseSym
	NoData
	NotationData
	NotationName
	NoPubkey
	NoRecp
	NoSeckey
	Plaintext
	PolicyURL
	Progress
	RSAOrIDEA
	SessionKey
	ShmGet
	ShmGetBool
	ShmGetHidden
	ShmInfo
	SigCreated
	SigExpired
	SigID
	Truncated
	TrustFully
	TrustMarginal
	TrustNever
	TrustUltimate
	TrustUndefined
	Unexpected
	UserIDHint
	ValidSig
)

type tableEntry struct {
	name string
	code Code
}

// table is sorted by keyword in byte order; Lookup relies on it.
var table = []tableEntry{
	{"ABORT", Abort},
	{"ALREADY_SIGNED", AlreadySigned},
	{"BADARMOR", BadArmor},
	{"BADMDC", BadMDC},
	{"BADSIG", BadSig},
	{"BAD_PASSPHRASE", BadPassphrase},
	{"BEGIN_DECRYPTION", BeginDecryption},
	{"BEGIN_ENCRYPTION", BeginEncryption},
	{"BEGIN_STREAM", BeginStream},
	{"DECRYPTION_FAILED", DecryptionFailed},
	{"DECRYPTION_OKAY", DecryptionOkay},
	{"DELETE_PROBLEM", DeleteProblem},
	{"ENC_TO", EncTo},
	{"END_DECRYPTION", EndDecryption},
	{"END_ENCRYPTION", EndEncryption},
	{"END_STREAM", EndStream},
	{"ENTER", Enter},
	{"ERRMDC", ErrMDC},
	{"ERROR", Error},
	{"ERRSIG", ErrSig},
	{"EXPKEYSIG", ExpKeySig},
	{"EXPSIG", ExpSig},
	{"FILE_DONE", FileDone},
	{"FILE_ERROR", FileError},
	{"FILE_START", FileStart},
	{"GET_BOOL", GetBool},
	{"GET_HIDDEN", GetHidden},
	{"GET_LINE", GetLine},
	{"GOODMDC", GoodMDC},
	{"GOODSIG", GoodSig},
	{"GOOD_PASSPHRASE", GoodPassphrase},
	{"GOT_IT", GotIt},
	{"IMPORTED", Imported},
	{"IMPORT_RES", ImportRes},
	{"INV_RECP", InvRecp},
	{"KEYEXPIRED", KeyExpired},
	{"KEYREVOKED", KeyRevoked},
	{"KEY_CREATED", KeyCreated},
	{"LEAVE", Leave},
	{"MISSING_PASSPHRASE", MissingPassphrase},
	{"NEED_PASSPHRASE", NeedPassphrase},
	{"NEED_PASSPHRASE_SYM", NeedPassphraseSym},
	{"NODATA", NoData},
	{"NOTATION_DATA", NotationData},
	{"NOTATION_NAME", NotationName},
	{"NO_PUBKEY", NoPubkey},
	{"NO_RECP", NoRecp},
	{"NO_SECKEY", NoSeckey},
	{"PLAINTEXT", Plaintext},
	{"POLICY_URL", PolicyURL},
	{"PROGRESS", Progress},
	{"RSA_OR_IDEA", RSAOrIDEA},
	{"SESSION_KEY", SessionKey},
	{"SHM_GET", ShmGet},
	{"SHM_GET_BOOL", ShmGetBool},
	{"SHM_GET_HIDDEN", ShmGetHidden},
	{"SHM_INFO", ShmInfo},
	{"SIGEXPIRED", SigExpired},
	{"SIG_CREATED", SigCreated},
	{"SIG_ID", SigID},
	{"TRUNCATED", Truncated},
	{"TRUST_FULLY", TrustFully},
	{"TRUST_MARGINAL", TrustMarginal},
	{"TRUST_NEVER", TrustNever},
	{"TRUST_ULTIMATE", TrustUltimate},
	{"TRUST_UNDEFINED", TrustUndefined},
	{"UNEXPECTED", Unexpected},
	{"USERID_HINT", UserIDHint},
	{"VALIDSIG", ValidSig},
}

var names = func() map[Code]string {
	m := make(map[Code]string, len(table)+1)
	m[EOF] = "EOF"
	for _, e := range table {
		m[e.code] = e.name
	}
	return m
}()

// Lookup returns the code for a status keyword.
func Lookup(name string) (Code, bool) {
	i := sort.Search(len(table), func(i int) bool { return table[i].name >= name })
	if i < len(table) && table[i].name == name {
		return table[i].code, true
	}
	return 0, false
}

// String returns the status keyword of the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "Code(" + strconv.Itoa(int(c)) + ")"
}
