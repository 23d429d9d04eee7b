package main

import (
	"log"

	"github.com/rados-io/saturn-presale/services/presaled"
)

func main() {
	if err := presaled.Main(); err != nil {
		log.Fatalf("presaled: %v", err)
	}
}
