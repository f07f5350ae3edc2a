package ldm

import "github.com/mdbooth/libldm/ldmerr"

// link runs the graph linker (spec.md §4.6) over a freshly decoded
// DiskGroup, cross-referencing partitions to disks and components,
// components to volumes, and deriving each volume's exposed type.
func link(dg *DiskGroup) error {
	if err := linkPartitionsToDisks(dg); err != nil {
		return err
	}
	if err := linkPartitionsToComponents(dg); err != nil {
		return err
	}
	if err := sortAndValidateComponents(dg); err != nil {
		return err
	}
	if err := linkComponentsToVolumes(dg); err != nil {
		return err
	}
	if err := deriveVolumeTypes(dg); err != nil {
		return err
	}
	if err := verifyComponentCounts(dg); err != nil {
		return err
	}

	for _, d := range dg.Disks {
		d.DGName = dg.Name
	}
	for _, v := range dg.Volumes {
		v.DGName = dg.Name
	}

	return nil
}

// step 1
func linkPartitionsToDisks(dg *DiskGroup) error {
	for _, p := range dg.Partitions {
		d, ok := dg.diskByID(p.diskID)
		if !ok {
			return ldmerr.New(ldmerr.Invalid, "partition %q (id %d) references disk id %d, which does not exist in this disk group", p.Name, p.id, p.diskID)
		}
		p.Disk = d
	}
	return nil
}

// step 2
func linkPartitionsToComponents(dg *DiskGroup) error {
	for _, p := range dg.Partitions {
		c, ok := dg.componentByID(p.componentID)
		if !ok {
			return ldmerr.New(ldmerr.Invalid, "partition %q (id %d) references component id %d, which does not exist in this disk group", p.Name, p.id, p.componentID)
		}
		c.parts = append(c.parts, p)
		p.component = c
	}
	return nil
}

// step 3
func sortAndValidateComponents(dg *DiskGroup) error {
	for _, c := range dg.components {
		if uint32(len(c.parts)) != c.nParts {
			return ldmerr.New(ldmerr.Invalid, "component %d declares n_parts=%d but has %d linked partitions", c.id, c.nParts, len(c.parts))
		}
		if c.nColumns > 0 && c.nColumns != c.nParts {
			return ldmerr.New(ldmerr.Invalid, "component %d declares n_columns=%d but n_parts=%d", c.id, c.nColumns, c.nParts)
		}

		sortPartitionsByIndex(c.parts)
	}
	return nil
}

// sortPartitionsByIndex sorts in place by ascending Index. A plain
// insertion sort is enough here: component partition counts are small
// (column/mirror counts, not disk counts), and it keeps this file
// dependency-free on "sort" for what is a handful of elements.
func sortPartitionsByIndex(parts []*Partition) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && parts[j-1].Index > parts[j].Index; j-- {
			parts[j-1], parts[j] = parts[j], parts[j-1]
		}
	}
}

// step 4
func linkComponentsToVolumes(dg *DiskGroup) error {
	for _, c := range dg.components {
		v, ok := dg.volumeByID(c.parentID)
		if !ok {
			return ldmerr.New(ldmerr.Invalid, "component %d references volume id %d, which does not exist in this disk group", c.id, c.parentID)
		}
		v.components = append(v.components, c)
		v.Parts = append(v.Parts, c.parts...)
		v.nCompsLinked++
		v.ChunkSize = c.chunkSize
	}
	return nil
}

// step 5: spec.md §4.6's decision table.
func deriveVolumeTypes(dg *DiskGroup) error {
	for _, v := range dg.Volumes {
		if len(v.components) == 0 {
			return ldmerr.New(ldmerr.Invalid, "volume %q (id %d) has no linked components", v.Name, v.id)
		}

		// All children of one volume share the same component kind by
		// construction (they were all assembled under that volume's
		// single component type); use the first to classify.
		childKind := v.components[0].kind

		switch v.internalKind {
		case volumeKindGen:
			switch childKind {
			case ComponentSpanned:
				switch {
				case v.nComps > 1:
					v.Type = VolumeMirrored
				case v.nComps == 1 && len(v.Parts) > 1:
					v.Type = VolumeSpanned
				case v.nComps == 1 && len(v.Parts) == 1:
					v.Type = VolumeSimple
				default:
					return ldmerr.New(ldmerr.Invalid, "volume %q: gen/spanned combination with n_comps=%d, n_parts=%d is not classifiable", v.Name, v.nComps, len(v.Parts))
				}
			case ComponentStriped:
				if v.nComps != 1 {
					return ldmerr.New(ldmerr.Invalid, "volume %q: striped volumes must have exactly one component, has %d", v.Name, v.nComps)
				}
				v.Type = VolumeStriped
			default:
				return ldmerr.New(ldmerr.Invalid, "volume %q: internal kind gen cannot combine with child kind %s", v.Name, childKind)
			}

		case volumeKindRaid5:
			if childKind == ComponentRaid && v.nComps == 1 {
				v.Type = VolumeRaid5
			} else {
				return ldmerr.New(ldmerr.Invalid, "volume %q: internal kind raid5 requires a single raid component, got kind %s with n_comps=%d", v.Name, childKind, v.nComps)
			}

		default:
			return ldmerr.New(ldmerr.Invalid, "volume %q: unrecognized internal kind %s", v.Name, v.internalKind)
		}
	}
	return nil
}

// step 6
func verifyComponentCounts(dg *DiskGroup) error {
	for _, v := range dg.Volumes {
		if v.nCompsLinked != v.nComps {
			return ldmerr.New(ldmerr.Invalid, "volume %q declares _n_comps=%d but linked %d components", v.Name, v.nComps, v.nCompsLinked)
		}
	}
	return nil
}

func (g *DiskGroup) volumeByID(id uint32) (*Volume, bool) {
	for _, v := range g.Volumes {
		if v.id == id {
			return v, true
		}
	}
	return nil, false
}
