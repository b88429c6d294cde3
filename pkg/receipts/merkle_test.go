package receipts

import (
	"encoding/hex"
	"testing"

	"github.com/compas-dev/compas/pkg/gatetypes"
)

func sampleReceipts() []gatetypes.Receipt {
	return []gatetypes.Receipt{
		{ToolID: "lint", Success: true, Command: "true"},
		{ToolID: "test", Success: true, Command: "true"},
		{ToolID: "vet", Success: false, Command: "false"},
	}
}

func TestBuildReceiptsMerkle_EmptyReceiptsIsError(t *testing.T) {
	if _, err := BuildReceiptsMerkle(nil); err == nil {
		t.Fatal("expected an error building a tree over zero receipts")
	}
}

func TestBuildReceiptsMerkle_DeterministicRoot(t *testing.T) {
	tree1, err := BuildReceiptsMerkle(sampleReceipts())
	if err != nil {
		t.Fatal(err)
	}
	tree2, err := BuildReceiptsMerkle(sampleReceipts())
	if err != nil {
		t.Fatal(err)
	}
	if tree1.RootHex() != tree2.RootHex() {
		t.Fatalf("expected identical receipts to produce identical roots, got %s vs %s", tree1.RootHex(), tree2.RootHex())
	}
}

func TestBuildReceiptsMerkle_DifferentReceiptsDifferentRoot(t *testing.T) {
	r := sampleReceipts()
	tree1, err := BuildReceiptsMerkle(r)
	if err != nil {
		t.Fatal(err)
	}
	r[0].Success = false
	tree2, err := BuildReceiptsMerkle(r)
	if err != nil {
		t.Fatal(err)
	}
	if tree1.RootHex() == tree2.RootHex() {
		t.Fatal("expected changing a receipt to change the root")
	}
}

func TestReceiptsMerkle_ProofVerifiesForEveryLeaf(t *testing.T) {
	receiptList := sampleReceipts()
	tree, err := BuildReceiptsMerkle(receiptList)
	if err != nil {
		t.Fatal(err)
	}
	for i := range receiptList {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		ok, err := VerifyReceiptProof(*proof)
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected proof %d to verify", i)
		}
	}
}

func TestReceiptsMerkle_TamperedProofFailsVerification(t *testing.T) {
	tree, err := BuildReceiptsMerkle(sampleReceipts())
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.Proof(1)
	if err != nil {
		t.Fatal(err)
	}
	proof.LeafHash = hex.EncodeToString(tree.leaves[0])
	ok, err := VerifyReceiptProof(*proof)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a swapped leaf hash to fail verification")
	}
}

func TestReceiptsMerkle_SingleReceiptTree(t *testing.T) {
	tree, err := BuildReceiptsMerkle([]gatetypes.Receipt{{ToolID: "only", Success: true}})
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(proof.Siblings) != 0 {
		t.Fatalf("expected no siblings for a single-leaf tree, got %d", len(proof.Siblings))
	}
	ok, err := VerifyReceiptProof(*proof)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected single-leaf proof to verify")
	}
}

func TestReceiptsMerkle_OutOfRangeIndexIsError(t *testing.T) {
	tree, err := BuildReceiptsMerkle(sampleReceipts())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Proof(99); err == nil {
		t.Fatal("expected an error for an out-of-range proof index")
	}
}
