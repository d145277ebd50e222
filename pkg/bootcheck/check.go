package bootcheck

// Check classifies an image from its two actual PARTUUIDs and the three
// referenced values. An empty reference stands for an absent token.
func Check(actual1, actual2, refCmdline2, refFstab1, refFstab2 string) Report {
	return Compare(Observation{
		Partitions: []Partition{
			{Index: 1, PartUUID: actual1},
			{Index: 2, PartUUID: actual2},
		},
		Found: []string{refCmdline2, refFstab1, refFstab2},
	})
}

// Compare checks every entry of References against the partition it
// targets. The report is OK only when all of them match; mismatches are
// listed in References order.
func Compare(obs Observation) Report {
	var mismatches []Mismatch
	for i, ref := range References {
		expected := obs.Actual(ref.Target)
		var found string
		if i < len(obs.Found) {
			found = obs.Found[i]
		}
		if expected != "" && found == expected {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Ref:      ref,
			Expected: expected,
			Found:    found,
		})
	}

	if len(mismatches) == 0 {
		return Report{Status: StatusOK}
	}
	return Report{Status: StatusNeedsFix, Mismatches: mismatches}
}
