// Package fairness recomputes round outcomes from revealed seed material.
//
// The scheduler draws every outcome through these same functions, so a
// verification here is bit-identical to the computation it audits.
package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/Pinkyx99/gamdom2-sub000/go/internal/models"
)

// RouletteSlots is the size of the roulette wheel (numbers 0-14).
const RouletteSlots = 15

// crashEdgeNumerator encodes a 1% house edge: 99 of every 100 units return.
const crashEdgeNumerator = 99

// Digest returns HMAC-SHA256(key=serverSeed, message="{clientSeed}-{nonce}").
func Digest(serverSeed, clientSeed string, nonce int64) []byte {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + "-" + strconv.FormatInt(nonce, 10)))
	return mac.Sum(nil)
}

// draw reads the first 32 bits of the digest as a big-endian integer.
func draw(seeds models.SeedPair) uint32 {
	return binary.BigEndian.Uint32(Digest(seeds.ServerSeed, seeds.ClientSeed, seeds.Nonce)[:4])
}

// RouletteNumber returns the winning wheel number for the seeds.
func RouletteNumber(seeds models.SeedPair) int {
	return int(draw(seeds) % RouletteSlots)
}

// CrashCents returns the crash point in hundredths, never below 100.
//
// The 32-bit draw h is mapped as floor(99 * 2^32 / (2^32 - h)), the inverse
// of an exponential crash-time distribution scaled by the house edge.
func CrashCents(seeds models.SeedPair) int64 {
	h := uint64(draw(seeds))
	const space = uint64(1) << 32
	cents := int64((crashEdgeNumerator * space) / (space - h))
	if cents < 100 {
		return 100
	}
	return cents
}

// CrashPoint returns the crash multiplier for the seeds.
func CrashPoint(seeds models.SeedPair) float64 {
	return float64(CrashCents(seeds)) / 100
}

// VerifyRoulette reports whether the seeds produce the expected number.
func VerifyRoulette(seeds models.SeedPair, expected int) bool {
	return RouletteNumber(seeds) == expected
}

// VerifyCrash reports whether the seeds produce the expected crash point,
// compared at two-decimal precision.
func VerifyCrash(seeds models.SeedPair, expected float64) bool {
	return CrashCents(seeds) == int64(math.Round(expected*100))
}

// Commitment is the published hash of a server seed before it is revealed.
func Commitment(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether a revealed seed matches its commitment.
func VerifyCommitment(serverSeed, commitment string) bool {
	return hmac.Equal([]byte(Commitment(serverSeed)), []byte(commitment))
}

// Result describes one verification run.
type Result struct {
	Game     models.Game `json:"game"`
	Expected string      `json:"expected"`
	Computed string      `json:"computed"`
	// Committed is false when a published seed hash does not match the
	// revealed seed. Rounds without a hash leave it true.
	Committed bool `json:"committed"`
	OK        bool `json:"ok"`
}

// Verify recomputes the outcome of a settled round and compares it with the
// published result. A round without a revealed seed or outcome is an error,
// never a silent pass.
func Verify(round models.Round) (Result, error) {
	seeds, ok := round.Seeds()
	if !ok {
		return Result{}, fmt.Errorf("round %s: server seed not revealed", round.ID)
	}
	res, err := verifyOutcome(round, seeds)
	if err != nil {
		return Result{}, err
	}
	res.Committed = round.SeedHash == "" || VerifyCommitment(seeds.ServerSeed, round.SeedHash)
	res.OK = res.OK && res.Committed
	return res, nil
}

func verifyOutcome(round models.Round, seeds models.SeedPair) (Result, error) {
	switch round.Game {
	case models.GameCrash:
		if round.CrashPoint == nil {
			return Result{}, fmt.Errorf("round %s: no crash point", round.ID)
		}
		computed := CrashPoint(seeds)
		return Result{
			Game:     round.Game,
			Expected: strconv.FormatFloat(*round.CrashPoint, 'f', 2, 64),
			Computed: strconv.FormatFloat(computed, 'f', 2, 64),
			OK:       VerifyCrash(seeds, *round.CrashPoint),
		}, nil
	case models.GameRoulette:
		if round.WinningNumber == nil {
			return Result{}, fmt.Errorf("round %s: no winning number", round.ID)
		}
		computed := RouletteNumber(seeds)
		return Result{
			Game:     round.Game,
			Expected: strconv.Itoa(*round.WinningNumber),
			Computed: strconv.Itoa(computed),
			OK:       computed == *round.WinningNumber,
		}, nil
	default:
		return Result{}, fmt.Errorf("unknown game %q", round.Game)
	}
}
